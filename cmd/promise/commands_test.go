package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/matsen/promise/internal/config"
	"github.com/matsen/promise/internal/export"
	"github.com/matsen/promise/internal/index"
)

// fakeServices serves the archive.org and Open Library endpoints used by
// the commands.
type fakeServices struct {
	mu       sync.Mutex
	present  map[string]bool
	accept   map[string]bool
	searches int
	adds     []string
}

func (f *fakeServices) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/advancedsearch.php", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":{"numFound":1,"docs":[{"identifier":"item-a"}]}}`))
	})
	mux.HandleFunc("/metadata/item-a", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"created":1664134349,"metadata":{"identifier":"item-a"},` +
			`"extrameta":{"isbn":[9780306406157,"BWBM52088056",9781405892469,9788189999520]}}`))
	})
	mux.HandleFunc("/metadata/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.searches++
		var docs []string
		for isbn := range f.present {
			if strings.Contains(r.URL.Query().Get("q"), isbn) {
				docs = append(docs, `{"isbn":["`+isbn+`"]}`)
			}
		}
		_, _ = w.Write([]byte(`{"numFound":1,"docs":[` + strings.Join(docs, ",") + `]}`))
	})
	mux.HandleFunc("/isbn/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		isbn := strings.TrimPrefix(r.URL.Path, "/isbn/")
		f.adds = append(f.adds, isbn)
		if !f.accept[isbn] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	return mux
}

func (f *fakeServices) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches
}

func (f *fakeServices) addCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.adds)
}

// testEnv is a config file and data directory wired to fake services.
type testEnv struct {
	services   *fakeServices
	configPath string
	dataDir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	services := &fakeServices{
		present: map[string]bool{"9780306406157": true},
		accept:  map[string]bool{"9781405892469": true},
	}
	srv := httptest.NewServer(services.handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.OpenLibraryURL = srv.URL
	cfg.ArchiveURL = srv.URL
	cfg.SearchRate = 1000
	cfg.AddInterval = "0s"
	cfg.LogLevel = "error"
	cfg.LogFormat = "json"

	path := filepath.Join(dir, "config.yml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("saving config: %v", err)
	}

	return &testEnv{services: services, configPath: path, dataDir: cfg.DataDir}
}

// run executes the CLI with fresh flag values and returns its stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	humanOutput, configPath, dataDirFlag = false, "", ""
	checkTargets, checkRefresh = targetFlags{count: 1}, false
	addTargets, addNoSkipAttempted = targetFlags{count: 1}, false
	missesOutput = ""

	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() { stdout = os.Stdout })

	rootCmd.SetArgs(append(args, "--config", e.configPath))
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decoding output %q: %v", out, err)
	}
	return v
}

func TestCheckAndAddMissing(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "check", "--direct-url", "https://archive.org/details/item-a")
	if err != nil {
		t.Fatalf("check error = %v", err)
	}
	checked := decode[CheckResponse](t, out)
	if len(checked.Items) != 1 {
		t.Fatalf("check items = %d, want 1", len(checked.Items))
	}
	s := checked.Items[0]
	if s.ItemID != "item-a" || s.Total != 3 || s.Hits != 1 || s.Misses != 2 || s.OriginalMisses != 2 {
		t.Errorf("check summary = %+v", s)
	}
	if s.MissesFile != config.MissesPath(env.dataDir, "item-a") {
		t.Errorf("MissesFile = %q", s.MissesFile)
	}

	// A second check is served from the cache and leaves the TSV alone.
	searches := env.services.searchCount()
	out, err = env.run(t, "check")
	if err != nil {
		t.Fatalf("second check error = %v", err)
	}
	if env.services.searchCount() != searches {
		t.Error("second check queried Open Library")
	}
	if got := decode[CheckResponse](t, out).Items[0].MissesFile; got != "" {
		t.Errorf("second check rewrote misses file %q", got)
	}

	out, err = env.run(t, "add-missing", "--direct-url", "item-a")
	if err != nil {
		t.Fatalf("add-missing error = %v", err)
	}
	added := decode[AddResponse](t, out)
	if a := added.Items[0]; a.Succeeded != 1 || a.Failed != 1 || a.Skipped != 0 || a.RunID == "" {
		t.Errorf("add-missing summary = %+v", a)
	}

	out, err = env.run(t, "add-missing", "--direct-url", "item-a")
	if err != nil {
		t.Fatalf("repeat add-missing error = %v", err)
	}
	if a := decode[AddResponse](t, out).Items[0]; a.Skipped != 2 || len(a.Attempts) != 0 {
		t.Errorf("repeat add-missing summary = %+v", a)
	}
	if env.services.addCount() != 2 {
		t.Errorf("add requests = %d, want 2", env.services.addCount())
	}

	if _, err := env.run(t, "add-missing", "--direct-url", "item-a", "--no-skip-attempted"); err != nil {
		t.Fatalf("add-missing --no-skip-attempted error = %v", err)
	}
	if env.services.addCount() != 4 {
		t.Errorf("add requests = %d, want 4", env.services.addCount())
	}

	out, err = env.run(t, "list")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	summaries := decode[[]index.Summary](t, out)
	if len(summaries) != 1 || summaries[0].Succeeded != 1 || summaries[0].Failed != 1 {
		t.Errorf("list = %+v", summaries)
	}

	out, err = env.run(t, "misses")
	if err != nil {
		t.Fatalf("misses error = %v", err)
	}
	rows := decode[[]export.MissRow](t, out)
	if len(rows) != 2 {
		t.Fatalf("misses rows = %d, want 2", len(rows))
	}
	if rows[0].ISBN != "9781405892469" || rows[0].Outcome != "success" || rows[0].Attempts != 2 {
		t.Errorf("misses row 0 = %+v", rows[0])
	}
	if rows[1].ISBN != "9788189999520" || rows[1].Outcome != "failure" {
		t.Errorf("misses row 1 = %+v", rows[1])
	}
}

func TestInvalidateThenCheck(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.run(t, "check", "--direct-url", "item-a"); err != nil {
		t.Fatalf("check error = %v", err)
	}

	env.services.mu.Lock()
	env.services.present["9781405892469"] = true
	env.services.mu.Unlock()

	out, err := env.run(t, "invalidate", "item-a")
	if err != nil {
		t.Fatalf("invalidate error = %v", err)
	}
	if got := decode[StatusResponse](t, out); got.Status != "invalidated" {
		t.Errorf("invalidate = %+v", got)
	}

	out, err = env.run(t, "check", "--direct-url", "item-a")
	if err != nil {
		t.Fatalf("check error = %v", err)
	}
	s := decode[CheckResponse](t, out).Items[0]
	if s.Hits != 2 || s.Misses != 1 || s.OriginalMisses != 2 {
		t.Errorf("re-check summary = %+v", s)
	}
}

func TestInvalidate_AcceptsDetailsURL(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.run(t, "check", "--direct-url", "item-a"); err != nil {
		t.Fatalf("check error = %v", err)
	}

	out, err := env.run(t, "invalidate", "https://archive.org/details/item-a")
	if err != nil {
		t.Fatalf("invalidate error = %v", err)
	}
	if got := decode[StatusResponse](t, out); got.Status != "invalidated" || got.Item != "item-a" {
		t.Errorf("invalidate = %+v", got)
	}

	searches := env.services.searchCount()
	if _, err := env.run(t, "check", "--direct-url", "item-a"); err != nil {
		t.Fatalf("check error = %v", err)
	}
	if env.services.searchCount() == searches {
		t.Error("check after invalidate did not re-query Open Library")
	}
}

func TestInvalidate_Unknown(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "invalidate", "never-checked")
	if err == nil {
		t.Fatal("invalidate unknown item expected error")
	}
	if code := exitCode(err); code != ExitDataError {
		t.Errorf("exit code = %d, want %d", code, ExitDataError)
	}
}

func TestCheck_UnknownItemContinues(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "check", "--direct-url", "no-such-item")
	if code := exitCode(err); code != ExitDataError {
		t.Errorf("exit code = %d (%v), want %d", code, err, ExitDataError)
	}
	resp := decode[CheckResponse](t, out)
	if len(resp.Items) != 0 || len(resp.Errors) != 1 || resp.Errors[0].ItemID != "no-such-item" {
		t.Errorf("check response = %+v", resp)
	}
}

func TestConfigGetSet(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "config", "batch-size", "25")
	if err != nil {
		t.Fatalf("config set error = %v", err)
	}
	if got := decode[UpdateResponse](t, out); got.Key != "batch-size" || got.Value != "25" {
		t.Errorf("config set = %+v", got)
	}

	out, err = env.run(t, "config", "batch_size")
	if err != nil {
		t.Fatalf("config get error = %v", err)
	}
	if got := decode[map[string]string](t, out); got["batch-size"] != "25" {
		t.Errorf("config get = %v", got)
	}

	if _, err := env.run(t, "config", "batch-size", "zero"); exitCode(err) != ExitConfigError {
		t.Errorf("invalid value exit code = %d, want %d", exitCode(err), ExitConfigError)
	}
	if _, err := env.run(t, "config", "no-such-key"); exitCode(err) != ExitConfigError {
		t.Errorf("unknown key exit code = %d, want %d", exitCode(err), ExitConfigError)
	}
}
