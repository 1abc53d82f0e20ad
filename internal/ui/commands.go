package ui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BioHazard786/devicehub/internal/canvas"
	"github.com/BioHazard786/devicehub/internal/registry"
	"github.com/BioHazard786/devicehub/internal/rendezvous"
	"github.com/BioHazard786/devicehub/internal/source"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoMatch        = errors.New("no match")
	ErrAmbiguous      = errors.New("ambiguous id")
)

// Output is what a console command produced.
type Output struct {
	Text string
	Grid *Grid
	Quit bool
}

// Controller runs console commands for one side of a session. Both the
// interactive console and the plain REPL drive a Controller.
type Controller interface {
	Role() string
	Header() string
	Help() string
	Exec(ctx context.Context, args []string) (Output, error)
	Describe(ev registry.Event) string
	Events() <-chan registry.Event
}

// Match resolves a unique id prefix against ids.
func Match(ids []string, prefix string) (string, error) {
	var found []string
	for _, id := range ids {
		if id == prefix {
			return id, nil
		}
		if strings.HasPrefix(id, prefix) {
			found = append(found, id)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNoMatch, prefix)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %d", ErrAmbiguous, prefix, len(found))
	}
}

func usage(format string) error {
	return fmt.Errorf("usage: %s", format)
}

// HostController drives a host's registry and canvas.
type HostController struct {
	Registry *registry.Registry
	Board    *canvas.Board
	Room     rendezvous.Code
}

func (h *HostController) Role() string { return "host" }

func (h *HostController) Events() <-chan registry.Event { return h.Registry.Events() }

func (h *HostController) Header() string {
	n := h.Registry.Count()
	noun := "connections"
	if n == 1 {
		noun = "connection"
	}
	return fmt.Sprintf("%s %s · %d %s · %d tiles", IconRoom, h.Room, n, noun, h.Board.Len())
}

func (h *HostController) Help() string {
	return strings.Join([]string{
		"list                 sources and their state",
		"peers                connected guests",
		"display <id>         show a source on the canvas",
		"hide <id>            take a source off the canvas",
		"remove <id>          stop a source and tell its guest",
		"clear                remove every source",
		"kick <peer>          disconnect a guest",
		"tiles                canvas layout",
		"raise <id>           bring a tile to the front",
		"move <id> <x> <y>    move a tile",
		"resize <id> <w> <h>  resize a tile",
		"labels on|off        show or hide tile captions",
		"help                 this list",
		"quit                 end the session",
	}, "\n")
}

func (h *HostController) ownerName(o source.Owner) string {
	if p, ok := h.Registry.Peer(o.ID); ok && p.Gen == o.Gen {
		return p.DisplayName()
	}
	return ""
}

func (h *HostController) sourceID(prefix string) (string, error) {
	recs := h.Registry.Sources().Sources()
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return Match(ids, prefix)
}

func (h *HostController) tileID(prefix string) (string, error) {
	tiles := h.Board.Tiles()
	ids := make([]string, len(tiles))
	for i, t := range tiles {
		ids[i] = t.SourceID
	}
	return Match(ids, prefix)
}

func (h *HostController) peerID(ref string) (string, error) {
	peers := h.Registry.Peers()
	ids := make([]string, len(peers))
	for i, p := range peers {
		if p.DisplayName() == ref {
			return p.ID, nil
		}
		ids[i] = p.ID
	}
	return Match(ids, ref)
}

func (h *HostController) Exec(ctx context.Context, args []string) (Output, error) {
	if len(args) == 0 {
		return Output{}, nil
	}
	sources := h.Registry.Sources()

	switch args[0] {
	case "list", "ls":
		g := SourceGrid(sources.Sources(), h.ownerName)
		return Output{Grid: &g}, nil

	case "peers":
		g := PeerGrid(h.Registry.Peers())
		return Output{Grid: &g}, nil

	case "display", "hide", "remove", "rm":
		if len(args) != 2 {
			return Output{}, usage(args[0] + " <id>")
		}
		id, err := h.sourceID(args[1])
		if err != nil {
			return Output{}, err
		}
		switch args[0] {
		case "display":
			err = sources.Display(id)
		case "hide":
			err = sources.Hide(id)
		default:
			err = sources.Remove(id)
		}
		if err != nil {
			return Output{}, err
		}
		return Output{Text: fmt.Sprintf("%s %s", args[0], ShortID(id))}, nil

	case "clear":
		n := sources.RemoveAll()
		return Output{Text: fmt.Sprintf("removed %d sources", n)}, nil

	case "kick":
		if len(args) != 2 {
			return Output{}, usage("kick <peer>")
		}
		id, err := h.peerID(args[1])
		if err != nil {
			return Output{}, err
		}
		if err := h.Registry.Kick(id); err != nil {
			return Output{}, err
		}
		return Output{Text: "kicked " + id}, nil

	case "tiles":
		g := TileGrid(h.Board.Tiles())
		return Output{Grid: &g}, nil

	case "raise":
		if len(args) != 2 {
			return Output{}, usage("raise <id>")
		}
		id, err := h.tileID(args[1])
		if err != nil {
			return Output{}, err
		}
		return Output{}, h.Board.Raise(id)

	case "move", "resize":
		if len(args) != 4 {
			return Output{}, usage(args[0] + " <id> <a> <b>")
		}
		id, err := h.tileID(args[1])
		if err != nil {
			return Output{}, err
		}
		a, errA := strconv.Atoi(args[2])
		b, errB := strconv.Atoi(args[3])
		if errA != nil || errB != nil {
			return Output{}, usage(args[0] + " <id> <a> <b>")
		}
		if args[0] == "move" {
			return Output{}, h.Board.Move(id, a, b)
		}
		return Output{}, h.Board.Resize(id, a, b)

	case "labels":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			return Output{}, usage("labels on|off")
		}
		h.Board.HideLabels(args[1] == "off")
		return Output{Text: "labels " + args[1]}, nil

	case "help", "?":
		return Output{Text: h.Help()}, nil

	case "quit", "exit":
		return Output{Quit: true}, nil
	}
	return Output{}, fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
}

func (h *HostController) Describe(ev registry.Event) string {
	switch ev.Kind {
	case registry.PeerJoined:
		return fmt.Sprintf("%s %s joined", IconPeer, ev.Peer.DisplayName())
	case registry.PeerUpdated:
		return fmt.Sprintf("%s %s is now known as %s", IconPeer, ev.Peer.ID, ev.Peer.DisplayName())
	case registry.PeerLeft:
		return fmt.Sprintf("%s %s left (%s)", IconPeer, ev.Peer.DisplayName(), ev.Text)
	case registry.SourceChanged:
		c := ev.Source
		who := h.ownerName(c.Source.Owner)
		if who == "" {
			who = c.Source.Owner.ID
		}
		if c.New {
			return fmt.Sprintf("%s %s offered %s %s", KindIcon(c.Source.Kind), who, c.Source.Kind, ShortID(c.Source.ID))
		}
		return fmt.Sprintf("%s %s %s from %s is %s", StateIcon(c.Source.State), c.Source.Kind, ShortID(c.Source.ID), who, c.Source.State)
	default:
		return ev.Text
	}
}

// GuestController drives a guest session.
type GuestController struct {
	Guest *registry.Guest
	Room  rendezvous.Code
}

func (g *GuestController) Role() string { return "guest" }

func (g *GuestController) Events() <-chan registry.Event { return g.Guest.Events() }

func (g *GuestController) Header() string {
	host := g.Guest.Host().Label
	if host == "" {
		host = "host"
	}
	return fmt.Sprintf("%s %s · %s %s · sharing %d", IconRoom, g.Room, IconHost, host, len(g.Guest.Sources()))
}

func (g *GuestController) Help() string {
	return strings.Join([]string{
		"share camera|window  offer a source to the host",
		"stop <id>            stop sharing a source",
		"list                 your sources and their state",
		"help                 this list",
		"quit                 leave the room",
	}, "\n")
}

func (g *GuestController) Exec(ctx context.Context, args []string) (Output, error) {
	if len(args) == 0 {
		return Output{}, nil
	}

	switch args[0] {
	case "share":
		if len(args) != 2 {
			return Output{}, usage("share camera|window")
		}
		id, err := g.Guest.Share(ctx, args[1])
		if err != nil {
			return Output{}, err
		}
		return Output{Text: fmt.Sprintf("%s sharing %s %s, waiting for the host", KindIcon(args[1]), args[1], ShortID(id))}, nil

	case "stop":
		if len(args) != 2 {
			return Output{}, usage("stop <id>")
		}
		recs := g.Guest.Sources()
		ids := make([]string, len(recs))
		for i, r := range recs {
			ids[i] = r.ID
		}
		id, err := Match(ids, args[1])
		if err != nil {
			return Output{}, err
		}
		if err := g.Guest.Stop(id); err != nil {
			return Output{}, err
		}
		return Output{Text: "stopped " + ShortID(id)}, nil

	case "list", "ls":
		grid := LocalSourceGrid(g.Guest.Sources())
		return Output{Grid: &grid}, nil

	case "help", "?":
		return Output{Text: g.Help()}, nil

	case "quit", "exit":
		return Output{Quit: true}, nil
	}
	return Output{}, fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
}

func (g *GuestController) Describe(ev registry.Event) string {
	switch ev.Kind {
	case registry.PeerUpdated:
		return fmt.Sprintf("%s connected to %s", IconHost, ev.Peer.DisplayName())
	case registry.SourceChanged:
		r := ev.Local
		return fmt.Sprintf("%s %s %s is %s", LocalStateIcon(r.State), r.Kind, ShortID(r.ID), r.State)
	default:
		return ev.Text
	}
}
