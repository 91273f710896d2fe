package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/matsen/promise/internal/promise"
)

// stdout is where command results go; logs go to stderr.
var stdout io.Writer = os.Stdout

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputHuman writes a human-readable string to stdout.
func outputHuman(format string, args ...any) {
	fmt.Fprintf(stdout, format, args...)
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// reportError prints err in the selected format and returns the exit code.
func reportError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	msg := err.Error()
	var ee *exitError
	if !errors.As(err, &ee) && exitCode(err) == ExitInterrupted {
		msg = "interrupted"
	}

	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		_ = outputJSON(ErrorResponse{Error: msg})
	}
	return exitCode(err)
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

var titleCaser = cases.Title(language.English)

// outcomeLabel renders an outcome such as not_attempted as "Not Attempted".
func outcomeLabel(o promise.Outcome) string {
	return titleCaser.String(strings.ReplaceAll(string(o), "_", " "))
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func printTargetErrorsHuman(failures []TargetError) {
	for _, f := range failures {
		outputHuman("Failed %s: %s\n", f.ItemID, f.Error)
	}
}
