package isbn

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"978-1-4058-9246-9", "9781405892469"},
		{"  9781405892469 ", "9781405892469"},
		{"0-8044-2957-x", "080442957X"},
		{"978 0 306 40615 7", "9780306406157"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"isbn13", "9781405892469", true},
		{"isbn10", "1405892463", true},
		{"isbn10 with X", "080442957X", true},
		{"isbn13 bad checksum", "9781405892468", false},
		{"isbn10 bad checksum", "1405892464", false},
		{"X not last", "08044X9575", false},
		{"letters", "97814058924AB", false},
		{"too short", "123456789", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Valid(tt.input); got != tt.want {
				t.Errorf("Valid(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFromManifest(t *testing.T) {
	var values []json.RawMessage
	data := `[9788189999520, 9781405892469, 1405892463, 9782723496117, "BWBM52088056",
		9783522182676, 9782880462703, "9781405892469", 823062015, "not-an-isbn", null, 9781405892468]`
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got := FromManifest(values)
	want := []string{
		"0823062015",
		"1405892463",
		"9781405892469",
		"9782723496117",
		"9782880462703",
		"9783522182676",
		"9788189999520",
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("FromManifest() = %v, want %v", got, want)
	}
}

func TestFromManifest_Empty(t *testing.T) {
	got := FromManifest(nil)
	if len(got) != 0 {
		t.Errorf("FromManifest(nil) = %v, want empty", got)
	}
}
