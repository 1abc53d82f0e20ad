package source

import (
	"errors"
	"testing"

	"github.com/BioHazard786/devicehub/internal/capture"
	"github.com/BioHazard786/devicehub/internal/protocol"
)

func openStream(t *testing.T, id string) capture.Stream {
	t.Helper()
	s, err := capture.Open(id, capture.KindCamera, capture.Options{Width: 1280, Height: 720, FrameRate: 30})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestMirror(t *testing.T) {
	m := NewMirror()
	s := openStream(t, "cam-1")

	if err := m.Add("cam-1", s); err != nil {
		t.Fatal(err)
	}
	if err := m.Add("cam-1", s); !errors.Is(err, ErrDuplicateSource) {
		t.Errorf("duplicate add error = %v", err)
	}

	rec, ok, err := m.Apply("cam-1", protocol.StatusLive)
	if err != nil || !ok || rec.State != LocalLive {
		t.Fatalf("apply live = %+v %v %v", rec, ok, err)
	}
	rec, _, _ = m.Apply("cam-1", protocol.StatusHidden)
	if rec.State != LocalHidden {
		t.Errorf("state = %v, want hidden", rec.State)
	}

	if _, ok, err := m.Apply("ghost", protocol.StatusLive); ok || err != nil {
		t.Errorf("unknown id applied: ok=%v err=%v", ok, err)
	}
	if _, _, err := m.Apply("cam-1", "paused"); err == nil {
		t.Error("unknown status accepted")
	}

	if !m.Remove("cam-1") {
		t.Fatal("remove reported unknown id")
	}
	select {
	case <-s.Done():
	default:
		t.Error("remove did not stop the capture")
	}
	if m.Remove("cam-1") {
		t.Error("second remove reported success")
	}
}

func TestMirrorClear(t *testing.T) {
	m := NewMirror()
	m.Add("a", openStream(t, "a"))
	m.Add("b", openStream(t, "b"))

	if n := m.Clear(); n != 2 {
		t.Errorf("cleared %d, want 2", n)
	}
	if len(m.List()) != 0 {
		t.Error("records left after clear")
	}
}
