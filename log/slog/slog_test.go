//go:build go1.21

package slog

import (
	"bytes"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/bastion"
)

func TestLoggerForwardsFields(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelDebug}))}

	l.Info("breaker opened", bastion.Fields{"breaker": "payments", "failures": 5})
	l.Debug("cache hit", nil)

	out := buf.String()
	for _, want := range []string{"breaker opened", "breaker=payments", "failures=5", "cache hit"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
