package registry

import "github.com/BioHazard786/devicehub/internal/source"

type EventKind int

const (
	PeerJoined EventKind = iota
	PeerUpdated
	PeerLeft
	SourceChanged
	Notice
)

func (k EventKind) String() string {
	switch k {
	case PeerJoined:
		return "peer-joined"
	case PeerUpdated:
		return "peer-updated"
	case PeerLeft:
		return "peer-left"
	case SourceChanged:
		return "source-changed"
	case Notice:
		return "notice"
	default:
		return "unknown"
	}
}

// Event is a change the console shows to the user.
type Event struct {
	Kind   EventKind
	Peer   Peer
	Source source.Change
	Local  source.LocalRecord
	Text   string
}
