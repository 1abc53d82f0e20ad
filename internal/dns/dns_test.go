package dns

import (
	"context"
	"errors"
	"testing"
)

func TestLookupIPLiteral(t *testing.T) {
	for _, host := range []string{"127.0.0.1", "::1", "10.0.0.7"} {
		got, err := Lookup(host)
		if err != nil || got != host {
			t.Errorf("Lookup(%q) = %q, %v", host, got, err)
		}
	}
}

func TestPreferIPv4(t *testing.T) {
	tests := []struct {
		name  string
		addrs []string
		want  string
	}{
		{"v4 after v6", []string{"2001:db8::1", "192.0.2.1"}, "192.0.2.1"},
		{"only v6", []string{"2001:db8::1"}, "2001:db8::1"},
		{"first v4", []string{"192.0.2.1", "192.0.2.2"}, "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := preferIPv4(tt.addrs)
			if err != nil || got != tt.want {
				t.Errorf("preferIPv4 = %q, %v, want %q", got, err, tt.want)
			}
		})
	}

	if _, err := preferIPv4(nil); !errors.Is(err, errNoAddress) {
		t.Errorf("empty list error = %v", err)
	}
}

func TestRaceServersWithoutServers(t *testing.T) {
	if _, err := raceServers(context.Background(), "example.com", nil); err == nil {
		t.Error("expected an error with no servers")
	}
}

func TestTrimBrackets(t *testing.T) {
	if got := trimBrackets("[2606:4700:4700::1111]"); got != "2606:4700:4700::1111" {
		t.Errorf("trimBrackets = %q", got)
	}
	if got := trimBrackets("1.1.1.1"); got != "1.1.1.1" {
		t.Errorf("trimBrackets = %q", got)
	}
}
