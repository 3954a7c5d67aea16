package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestSimpleProgress(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf)

	progress.Update("run-1", "screening", 1, 4)
	progress.Update("run-1", "screening", 4, 4)
	progress.Update("run-1", "eligibility", 1, 2)
	progress.Finish()

	output := buf.String()
	for _, want := range []string{"screening", "(4/4)", "100.0%", "eligibility", "(1/2)"} {
		if !strings.Contains(output, want) {
			t.Errorf("progress output missing %q: %q", want, output)
		}
	}
	if got := strings.Count(output, "\n"); got != 2 {
		t.Errorf("newlines = %d, want one per phase", got)
	}
}

func TestSimpleProgressZeroTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf)
	progress.Update("run-1", "intake", 0, 0)
	progress.Finish()

	if strings.Contains(buf.String(), "%") {
		t.Errorf("zero total rendered a bar: %q", buf.String())
	}
}

func TestSimpleProgressFinishIdle(t *testing.T) {
	buf := &bytes.Buffer{}
	NewProgressReporter(buf).Finish()
	if buf.Len() != 0 {
		t.Errorf("Finish() without updates wrote %q", buf.String())
	}
}
