package capture

import "testing"

func TestOpen(t *testing.T) {
	s, err := Open("src-1", KindCamera, Options{Width: 1280, Height: 720, FrameRate: 30})
	if err != nil {
		t.Fatal(err)
	}
	if s.ID() != "src-1" || s.Kind() != KindCamera {
		t.Errorf("stream = %s/%s", s.ID(), s.Kind())
	}
	if s.Track().ID() != "src-1" {
		t.Errorf("track id = %q", s.Track().ID())
	}

	s.Stop()
	s.Stop()
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed after Stop")
	}
}

func TestOpenRejectsUnknownKind(t *testing.T) {
	if _, err := Open("x", "microphone", Options{}); err == nil {
		t.Fatal("expected error")
	}
}
