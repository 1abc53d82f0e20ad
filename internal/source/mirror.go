package source

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BioHazard786/devicehub/internal/capture"
	"github.com/BioHazard786/devicehub/internal/protocol"
)

// LocalState is the guest's view of one of its own sources.
type LocalState int

const (
	LocalPending LocalState = iota
	LocalLive
	LocalHidden
)

func (s LocalState) String() string {
	switch s {
	case LocalPending:
		return "pending"
	case LocalLive:
		return "live"
	case LocalHidden:
		return "hidden"
	default:
		return "unknown"
	}
}

// LocalRecord is a snapshot of a guest-side source.
type LocalRecord struct {
	ID      string
	Kind    string
	State   LocalState
	Updated time.Time
}

type localRecord struct {
	LocalRecord
	stream capture.Stream
}

// Mirror is the guest's table of sources it is sharing. Only the host's
// status messages move a record between pending, live and hidden.
type Mirror struct {
	mu      sync.Mutex
	records map[string]*localRecord
}

func NewMirror() *Mirror {
	return &Mirror{records: make(map[string]*localRecord)}
}

// Add registers a new outgoing source in the pending state.
func (m *Mirror) Add(id string, stream capture.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, id)
	}
	m.records[id] = &localRecord{
		LocalRecord: LocalRecord{ID: id, Kind: stream.Kind(), State: LocalPending, Updated: time.Now()},
		stream:      stream,
	}
	return nil
}

// Apply applies a host status to a local source. Unknown ids are ignored and
// report false.
func (m *Mirror) Apply(id, status string) (LocalRecord, bool, error) {
	var next LocalState
	switch status {
	case protocol.StatusLive:
		next = LocalLive
	case protocol.StatusHidden:
		next = LocalHidden
	default:
		return LocalRecord{}, false, fmt.Errorf("unknown source status %q", status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return LocalRecord{}, false, nil
	}
	rec.State = next
	rec.Updated = time.Now()
	return rec.LocalRecord, true, nil
}

// Remove drops a local source and stops its capture. It reports whether the
// id was known.
func (m *Mirror) Remove(id string) bool {
	m.mu.Lock()
	rec, ok := m.records[id]
	delete(m.records, id)
	m.mu.Unlock()

	if !ok {
		return false
	}
	rec.stream.Stop()
	return true
}

// Clear stops and drops every local source.
func (m *Mirror) Clear() int {
	m.mu.Lock()
	recs := m.records
	m.records = make(map[string]*localRecord)
	m.mu.Unlock()

	for _, rec := range recs {
		rec.stream.Stop()
	}
	return len(recs)
}

func (m *Mirror) Get(id string) (LocalRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return LocalRecord{}, false
	}
	return rec.LocalRecord, true
}

func (m *Mirror) List() []LocalRecord {
	m.mu.Lock()
	out := make([]LocalRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.LocalRecord)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
