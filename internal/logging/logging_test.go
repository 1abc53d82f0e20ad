package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.ErrorLevel},
		{"dev", zerolog.DebugLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"prod", zerolog.ErrorLevel},
		{"trace", zerolog.TraceLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPionFactoryScopesLogger(t *testing.T) {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(prev)

	var buf bytes.Buffer
	f := NewPionFactory(zerolog.New(&buf))
	f.NewLogger("ice").Warnf("candidate %d dropped", 3)

	out := buf.String()
	if !strings.Contains(out, `"mod":"ice"`) {
		t.Errorf("missing scope in %s", out)
	}
	if !strings.Contains(out, "candidate 3 dropped") {
		t.Errorf("missing message in %s", out)
	}
}
