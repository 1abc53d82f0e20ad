package ui

import (
	"fmt"
	"time"

	"github.com/BioHazard786/devicehub/internal/canvas"
	"github.com/BioHazard786/devicehub/internal/registry"
	"github.com/BioHazard786/devicehub/internal/source"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const shortIDLen = 8

// Grid is tabular data that renders either as a lipgloss table in the
// console or as a go-pretty table in plain mode.
type Grid struct {
	Headers []string
	Rows    [][]string
	Empty   string
}

// ShortID trims a source id for display. Commands accept any unique prefix.
func ShortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

func since(t time.Time) string {
	return time.Since(t).Truncate(time.Second).String()
}

// PeerGrid lists connected guests.
func PeerGrid(peers []registry.Peer) Grid {
	g := Grid{Headers: []string{"#", "Peer", "Name", "Version", "Connected"}, Empty: "No guests connected"}
	for i, p := range peers {
		g.Rows = append(g.Rows, []string{
			fmt.Sprintf("%d", i+1),
			p.ID,
			p.DisplayName(),
			p.Info.Version,
			since(p.Joined),
		})
	}
	return g
}

// SourceGrid lists the host's sources. name maps an owner to its display name.
func SourceGrid(recs []source.Record, name func(source.Owner) string) Grid {
	g := Grid{Headers: []string{"Source", "Kind", "From", "Device", "State"}, Empty: "No sources"}
	for _, r := range recs {
		from := r.Owner.ID
		if name != nil {
			if n := name(r.Owner); n != "" {
				from = n
			}
		}
		g.Rows = append(g.Rows, []string{
			ShortID(r.ID),
			KindIcon(r.Kind) + " " + r.Kind,
			from,
			r.Device.Type,
			StateIcon(r.State) + " " + r.State.String(),
		})
	}
	return g
}

// LocalSourceGrid lists the sources a guest is sharing.
func LocalSourceGrid(recs []source.LocalRecord) Grid {
	g := Grid{Headers: []string{"Source", "Kind", "State", "Updated"}, Empty: "Not sharing anything"}
	for _, r := range recs {
		g.Rows = append(g.Rows, []string{
			ShortID(r.ID),
			KindIcon(r.Kind) + " " + r.Kind,
			LocalStateIcon(r.State) + " " + r.State.String(),
			since(r.Updated) + " ago",
		})
	}
	return g
}

// TileGrid lists the tiles on the canvas, back to front.
func TileGrid(tiles []canvas.Tile) Grid {
	g := Grid{Headers: []string{"Z", "Source", "Label", "Position", "Size"}, Empty: "Canvas is empty"}
	for _, t := range tiles {
		g.Rows = append(g.Rows, []string{
			fmt.Sprintf("%d", t.Z),
			ShortID(t.SourceID),
			t.Label.Text,
			fmt.Sprintf("%d,%d", t.X, t.Y),
			fmt.Sprintf("%dx%d", t.W, t.H),
		})
	}
	return g
}

// View renders the grid with lipgloss.
func (g Grid) View() string {
	if len(g.Rows) == 0 {
		return MutedStyle.Render(g.Empty)
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(g.Headers...).
		Rows(g.Rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

type RoomInfo struct {
	Room string
	Link string
	Role string
}

func (r RoomInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s Joined as %s\n\n%s Room:  %s\n%s Link:  %s",
		IconSuccess, BoldStyle.Render(r.Role),
		IconCopy, BoldStyle.Foreground(Primary).Render(r.Room),
		IconWeb, MutedStyle.Render(r.Link),
	)

	return boxStyle.Render(content)
}
