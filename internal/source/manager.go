// Package source tracks every media offering a guest makes to the host,
// from submission through display to termination, and the guest's mirror
// of that state.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BioHazard786/devicehub/internal/canvas"
	"github.com/BioHazard786/devicehub/internal/protocol"
	"github.com/BioHazard786/devicehub/internal/provider"
	"github.com/rs/zerolog"
)

var (
	ErrDuplicateSource = errors.New("duplicate source")
	ErrUnknownSource   = errors.New("unknown source")
)

// ExpectTimeout bounds how long an announced source may take to deliver
// its media.
const ExpectTimeout = 60 * time.Second

// Owner identifies the peer record a source came from. Gen separates a
// reconnected guest from its previous record.
type Owner struct {
	ID  string
	Gen uint64
}

func (o Owner) String() string { return fmt.Sprintf("%s#%d", o.ID, o.Gen) }

// Outbox delivers host messages to the guest behind owner.
type Outbox interface {
	Send(owner Owner, msgType string, payload any) error
}

// Record is a snapshot of one source.
type Record struct {
	ID     string
	Owner  Owner
	Kind   string
	Device protocol.DeviceInfo
	State  State
	Since  time.Time
}

// Change reports a state change to observers.
type Change struct {
	Source Record
	From   State
	Action Action
	New    bool
}

type record struct {
	Record
	media provider.Media
	tiled bool
}

type expectation struct {
	owner Owner
	kind  string
	timer *time.Timer
	stop  func() bool
}

// Manager owns the host's source table. It is the only writer of source
// state and the only caller of the renderer.
type Manager struct {
	renderer canvas.Renderer
	outbox   Outbox
	log      zerolog.Logger

	mu       sync.Mutex
	records  map[string]*record
	expected map[string]*expectation
	retired  map[Owner]map[string]struct{}
	dropped  map[Owner]struct{}

	expectTimeout time.Duration
	labeler       func(Owner) string
	onChange      func(Change)
}

func NewManager(renderer canvas.Renderer, outbox Outbox, log zerolog.Logger) *Manager {
	return &Manager{
		renderer:      renderer,
		outbox:        outbox,
		log:           log,
		records:       make(map[string]*record),
		expected:      make(map[string]*expectation),
		retired:       make(map[Owner]map[string]struct{}),
		dropped:       make(map[Owner]struct{}),
		expectTimeout: ExpectTimeout,
	}
}

// SetLabeler sets the function that names an owner on tile captions.
func (m *Manager) SetLabeler(fn func(Owner) string) { m.labeler = fn }

// OnChange registers an observer. It is called outside the manager lock.
func (m *Manager) OnChange(fn func(Change)) { m.onChange = fn }

// SetExpectTimeout overrides ExpectTimeout.
func (m *Manager) SetExpectTimeout(d time.Duration) { m.expectTimeout = d }

func (m *Manager) notify(c Change) {
	if m.onChange != nil {
		m.onChange(c)
	}
}

func (m *Manager) isRetired(owner Owner, id string) bool {
	_, ok := m.retired[owner][id]
	return ok
}

// Expect records a source-submitted announcement. The expectation lapses
// after the expect timeout or when ctx, the owner's peer context, ends.
func (m *Manager) Expect(ctx context.Context, owner Owner, id, kind string) error {
	if id == "" {
		return fmt.Errorf("%w: empty source id", ErrUnknownSource)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dropped[owner]; ok {
		return fmt.Errorf("%w: %s is gone", ErrUnknownSource, owner)
	}
	if rec, ok := m.records[id]; ok {
		if rec.Owner == owner {
			// media overtook its announcement
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicateSource, id)
	}
	if m.isRetired(owner, id) {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, id)
	}
	if _, ok := m.expected[id]; ok {
		return fmt.Errorf("%w: %s already announced", ErrDuplicateSource, id)
	}

	exp := &expectation{owner: owner, kind: kind}
	exp.timer = time.AfterFunc(m.expectTimeout, func() { m.dropExpectation(id, exp, "timed out") })
	exp.stop = context.AfterFunc(ctx, func() { m.dropExpectation(id, exp, "peer closed") })
	m.expected[id] = exp

	m.log.Debug().Str("source", id).Str("owner", owner.ID).Str("kind", kind).Msg("source announced")
	return nil
}

func (m *Manager) dropExpectation(id string, exp *expectation, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expected[id] != exp {
		return
	}
	delete(m.expected, id)
	exp.timer.Stop()
	exp.stop()
	m.log.Debug().Str("source", id).Str("reason", reason).Msg("dropped source announcement")
}

// Expected returns the number of announced sources still waiting for media.
func (m *Manager) Expected() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expected)
}

// Submit registers inbound media as a Pending source. Media whose source id
// is already in use, or was used by this owner before, is released and
// rejected, as is media from an owner that was already dropped.
func (m *Manager) Submit(owner Owner, media provider.Media) error {
	tag := media.Tag()
	id := tag.SourceID
	if id == "" {
		media.Close()
		return fmt.Errorf("%w: media without source id", ErrUnknownSource)
	}

	m.mu.Lock()
	if _, ok := m.dropped[owner]; ok {
		m.mu.Unlock()
		media.Close()
		return fmt.Errorf("%w: %s is gone", ErrUnknownSource, owner)
	}
	if _, ok := m.records[id]; ok || m.isRetired(owner, id) {
		m.mu.Unlock()
		media.Close()
		return fmt.Errorf("%w: %s", ErrDuplicateSource, id)
	}
	kind := tag.Kind
	if exp, ok := m.expected[id]; ok {
		if exp.owner != owner {
			m.mu.Unlock()
			media.Close()
			return fmt.Errorf("%w: %s announced by %s", ErrDuplicateSource, id, exp.owner.ID)
		}
		delete(m.expected, id)
		exp.timer.Stop()
		exp.stop()
		if kind == "" {
			kind = exp.kind
		}
	}

	rec := &record{
		Record: Record{
			ID:     id,
			Owner:  owner,
			Kind:   kind,
			Device: tag.Device,
			State:  Pending,
			Since:  time.Now(),
		},
		media: media,
	}
	m.records[id] = rec
	snap := rec.Record
	m.mu.Unlock()

	go func() {
		<-media.Done()
		m.terminate(id, ActionEnd, rec)
	}()

	m.log.Info().Str("source", id).Str("owner", owner.ID).Str("kind", kind).Msg("source available")
	m.notify(Change{Source: snap, From: Pending, New: true})
	return nil
}

// Display shows a Pending or Hidden source. Unknown ids and sources that are
// already displayed are left alone.
func (m *Manager) Display(id string) error {
	return m.toggle(id, ActionDisplay)
}

// Hide removes a Displayed source's tile but keeps its media.
func (m *Manager) Hide(id string) error {
	return m.toggle(id, ActionHide)
}

func (m *Manager) toggle(id string, action Action) error {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}

	from := rec.State
	to, ok := Next(from, action)
	if !ok {
		m.mu.Unlock()
		m.log.Debug().Str("source", id).Stringer("state", from).Stringer("action", action).Msg("ignored transition")
		return nil
	}

	switch to {
	case Displayed:
		if !rec.tiled {
			if err := m.renderer.CreateTile(id, rec.media, m.label(rec)); err != nil {
				m.mu.Unlock()
				return fmt.Errorf("create tile for %s: %w", id, err)
			}
			rec.tiled = true
		}
	case Hidden:
		if rec.tiled {
			m.renderer.DestroyTile(id)
			rec.tiled = false
		}
	}
	rec.State = to
	snap := rec.Record
	m.mu.Unlock()

	status := protocol.StatusLive
	if to == Hidden {
		status = protocol.StatusHidden
	}
	if err := m.outbox.Send(snap.Owner, protocol.TypeSourceStatus, protocol.SourceStatusPayload{SourceID: id, Status: status}); err != nil {
		m.log.Warn().Err(err).Str("source", id).Msg("status not delivered")
	}

	m.notify(Change{Source: snap, From: from, Action: action})
	return nil
}

func (m *Manager) label(rec *record) canvas.Label {
	text := rec.Kind
	if m.labeler != nil {
		if name := m.labeler(rec.Owner); name != "" {
			text = name + " · " + rec.Kind
		}
	}
	return canvas.Label{Text: text, Icon: rec.Device.Icon}
}

// Remove terminates a source on the host's initiative and tells the owner
// to stop capturing.
func (m *Manager) Remove(id string) error {
	return m.terminate(id, ActionRemove, nil)
}

// End terminates a source its owner stopped. A guest can only end its own
// sources. Ending an announced source that never delivered media drops the
// announcement.
func (m *Manager) End(owner Owner, id string) error {
	m.mu.Lock()
	if exp, ok := m.expected[id]; ok && exp.owner == owner {
		delete(m.expected, id)
		exp.timer.Stop()
		exp.stop()
		m.mu.Unlock()
		return nil
	}
	rec, ok := m.records[id]
	m.mu.Unlock()

	if !ok || rec.Owner != owner {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return m.terminate(id, ActionEnd, rec)
}

// DropPeer terminates everything owner had without messaging it. Later
// submissions and announcements from owner are rejected.
func (m *Manager) DropPeer(owner Owner) int {
	m.mu.Lock()
	m.dropped[owner] = struct{}{}
	var ids []string
	for id, rec := range m.records {
		if rec.Owner == owner {
			ids = append(ids, id)
		}
	}
	for id, exp := range m.expected {
		if exp.owner == owner {
			delete(m.expected, id)
			exp.timer.Stop()
			exp.stop()
		}
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if m.terminate(id, ActionPeerGone, nil) == nil {
			n++
		}
	}

	m.mu.Lock()
	delete(m.retired, owner)
	m.mu.Unlock()
	return n
}

// RemoveAll removes every source on the host's initiative.
func (m *Manager) RemoveAll() int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if m.Remove(id) == nil {
			n++
		}
	}
	return n
}

// terminate runs the single cleanup of a source. Only the caller that
// removes the record from the table releases media and sends messages, so
// racing terminations clean up once. When want is set the record must
// still be that exact record.
func (m *Manager) terminate(id string, action Action, want *record) error {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || (want != nil && rec != want) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}

	from := rec.State
	if _, ok := Next(from, action); !ok {
		m.mu.Unlock()
		return fmt.Errorf("illegal %s from %s", action, from)
	}

	delete(m.records, id)
	if action != ActionPeerGone {
		if m.retired[rec.Owner] == nil {
			m.retired[rec.Owner] = make(map[string]struct{})
		}
		m.retired[rec.Owner][id] = struct{}{}
	}
	if rec.tiled {
		m.renderer.DestroyTile(id)
		rec.tiled = false
	}
	rec.State = Terminated
	snap := rec.Record
	m.mu.Unlock()

	if err := rec.media.Close(); err != nil {
		m.log.Debug().Err(err).Str("source", id).Msg("release media")
	}

	if action == ActionRemove {
		if err := m.outbox.Send(snap.Owner, protocol.TypeHostRemoveSource, protocol.SourceRefPayload{SourceID: id}); err != nil {
			m.log.Warn().Err(err).Str("source", id).Msg("remove notice not delivered")
		}
	}

	m.log.Info().Str("source", id).Stringer("action", action).Msg("source terminated")
	m.notify(Change{Source: snap, From: from, Action: action})
	return nil
}

// Get returns a snapshot of one source.
func (m *Manager) Get(id string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.Record, true
}

// Sources returns all live sources, oldest first.
func (m *Manager) Sources() []Record {
	m.mu.Lock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Record)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].ID < out[j].ID
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

// Counts returns the number of sources per state.
func (m *Manager) Counts() map[State]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := map[State]int{Pending: 0, Displayed: 0, Hidden: 0}
	for _, rec := range m.records {
		out[rec.State]++
	}
	return out
}
