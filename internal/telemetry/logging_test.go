package telemetry

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestContextLoggers(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	WithStepID(WithFlowID(WithExecutionID(log, "e1"), "f1"), "s1").Info("step event")

	out := buf.String()
	for _, want := range []string{"execution_id=e1", "flow_id=f1", "step_id=s1"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log line, got %q", want, out)
		}
	}
}
