package rendezvous

import (
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Code
		wantErr bool
	}{
		{in: "abc-123", want: "ABC123"},
		{in: "ABC123", want: "ABC123"},
		{in: " a b c 1 2 3 ", want: "ABC123"},
		{in: "abc-1234", want: "ABC123"},
		{in: "abc-12", wantErr: true},
		{in: "", wantErr: true},
		{in: "---!!!", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedRoomCode) {
					t.Fatalf("Parse(%q) error = %v, want ErrMalformedRoomCode", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDeriveHostIdentityIsStable(t *testing.T) {
	a, _ := Parse("abc-123")
	b, _ := Parse("ABC123")

	x := DeriveHostIdentity(a)
	if x != DeriveHostIdentity(a) {
		t.Fatal("derivation is not deterministic")
	}
	if y := DeriveHostIdentity(b); x != y {
		t.Errorf("same room produced %q and %q", x, y)
	}
	if x != "dh-ABC123" {
		t.Errorf("identity = %q", x)
	}
}

func TestCodeString(t *testing.T) {
	if got := Code("ABC123").String(); got != "ABC-123" {
		t.Errorf("String() = %q", got)
	}
}

func TestGenerate(t *testing.T) {
	seen := make(map[Code]bool)
	for i := 0; i < 50; i++ {
		c := Generate()
		if len(c) != CodeLength {
			t.Fatalf("generated %q with wrong length", c)
		}
		for _, r := range string(c) {
			if !strings.ContainsRune(alphabet, r) {
				t.Fatalf("generated %q with character outside the alphabet", c)
			}
		}
		if _, err := Parse(c.String()); err != nil {
			t.Fatalf("generated code does not parse: %v", err)
		}
		seen[c] = true
	}
	if len(seen) < 45 {
		t.Errorf("only %d distinct codes out of 50", len(seen))
	}
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		in      string
		want    Code
		wantErr bool
	}{
		{in: "xyz-789", want: "XYZ789"},
		{in: "https://devicehub.qzz.io/?room=XYZ-789", want: "XYZ789"},
		{in: "https://devicehub.qzz.io/r/xyz789/", want: "XYZ789"},
		{in: "https://devicehub.qzz.io/", wantErr: true},
		{in: "   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInput(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseInput(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseInput(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
