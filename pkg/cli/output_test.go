package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func sampleTable() *Table {
	return &Table{
		Columns: []string{"run", "status"},
		Data: [][]string{
			{"r1", "completed"},
			{"r2", "paused, gate"},
		},
	}
}

func TestTextFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&TextFormatter{}).FormatTo(buf, "test message"); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	if buf.String() != "test message\n" {
		t.Errorf("FormatTo() = %q", buf.String())
	}

	buf.Reset()
	if err := (&TextFormatter{}).FormatTo(buf, sampleTable()); err != nil {
		t.Fatalf("FormatTo(table) error = %v", err)
	}
	for _, want := range []string{"RUN", "STATUS", "r1", "paused, gate"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("table output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestJSONFormatter(t *testing.T) {
	tests := []struct {
		name   string
		indent bool
	}{
		{"compact", false},
		{"indented", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			data := map[string]int{"count": 3}
			if err := (&JSONFormatter{Indent: tt.indent}).FormatTo(buf, data); err != nil {
				t.Fatalf("FormatTo() error = %v", err)
			}
			var got map[string]int
			if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
				t.Fatalf("invalid JSON %q: %v", buf.String(), err)
			}
			if got["count"] != 3 {
				t.Errorf("decoded = %v", got)
			}
			if strings.Contains(buf.String(), "\n  ") != tt.indent {
				t.Errorf("indentation mismatch: %q", buf.String())
			}
		})
	}
}

func TestCSVFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&CSVFormatter{}).FormatTo(buf, sampleTable()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	want := "run,status\nr1,completed\nr2,\"paused, gate\"\n"
	if buf.String() != want {
		t.Errorf("FormatTo() = %q, want %q", buf.String(), want)
	}

	if err := (&CSVFormatter{}).FormatTo(&bytes.Buffer{}, "plain"); err == nil {
		t.Error("FormatTo(non-tabular) error = nil")
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format OutputFormat
		want   string
	}{
		{FormatText, "*cli.TextFormatter"},
		{FormatJSON, "*cli.JSONFormatter"},
		{FormatCSV, "*cli.CSVFormatter"},
		{"unknown", "*cli.TextFormatter"},
	}
	for _, tt := range tests {
		got := NewFormatter(tt.format)
		if name := typeName(got); name != tt.want {
			t.Errorf("NewFormatter(%q) = %s, want %s", tt.format, name, tt.want)
		}
	}
}

func typeName(f Formatter) string {
	switch f.(type) {
	case *TextFormatter:
		return "*cli.TextFormatter"
	case *JSONFormatter:
		return "*cli.JSONFormatter"
	case *CSVFormatter:
		return "*cli.CSVFormatter"
	default:
		return "unknown"
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": FormatText, "text": FormatText, "json": FormatJSON, "csv": FormatCSV} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("yaml"); ExitCode(err) != ExitUsage {
		t.Errorf("ParseFormat(yaml) error = %v, want usage error", err)
	}
}
