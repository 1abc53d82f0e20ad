// Package canvas places source tiles on the host's display surface.
package canvas

import (
	"errors"
	"sort"
	"sync"

	"github.com/BioHazard786/devicehub/internal/provider"
)

// Tile geometry defaults.
const (
	DefaultWidth  = 400
	DefaultHeight = 225
	MinWidth      = 100
	MinHeight     = 56
	edgeMargin    = 10
)

var ErrNoTile = errors.New("no such tile")

// Label is what a tile shows in its caption.
type Label struct {
	Text string
	Icon string
}

// Renderer creates and destroys tiles bound to live media. It never
// changes source state; the source manager decides when tiles exist.
type Renderer interface {
	CreateTile(sourceID string, media provider.Media, label Label) error
	DestroyTile(sourceID string)
}

// Tile is a placed surface on the board.
type Tile struct {
	SourceID string
	Label    Label
	X, Y     int
	W, H     int
	Z        int
	media    provider.Media
}

// Board is a headless Renderer that tracks tile geometry.
type Board struct {
	mu        sync.Mutex
	width     int
	height    int
	lockRatio bool
	noLabels  bool
	tiles     map[string]*Tile
	z         int
}

// NewBoard returns an empty board of the given size.
func NewBoard(width, height int, lockRatio bool) *Board {
	return &Board{
		width:     width,
		height:    height,
		lockRatio: lockRatio,
		tiles:     make(map[string]*Tile),
	}
}

// CreateTile places a new tile centered on the board. A second tile for the
// same source replaces nothing and is rejected.
func (b *Board) CreateTile(sourceID string, media provider.Media, label Label) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tiles[sourceID]; ok {
		return errors.New("tile already exists for " + sourceID)
	}

	b.z++
	b.tiles[sourceID] = &Tile{
		SourceID: sourceID,
		Label:    label,
		X:        max(edgeMargin, (b.width-DefaultWidth)/2),
		Y:        max(edgeMargin, (b.height-DefaultHeight)/2),
		W:        DefaultWidth,
		H:        DefaultHeight,
		Z:        b.z,
		media:    media,
	}
	return nil
}

// HideLabels turns tile captions off or back on.
func (b *Board) HideLabels(hide bool) {
	b.mu.Lock()
	b.noLabels = hide
	b.mu.Unlock()
}

func (b *Board) DestroyTile(sourceID string) {
	b.mu.Lock()
	delete(b.tiles, sourceID)
	b.mu.Unlock()
}

// Move repositions a tile, keeping it on the board.
func (b *Board) Move(sourceID string, x, y int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tiles[sourceID]
	if !ok {
		return ErrNoTile
	}
	t.X = clamp(x, 0, max(0, b.width-t.W))
	t.Y = clamp(y, 0, max(0, b.height-t.H))
	return nil
}

// Resize changes a tile's size, honoring the minimum size and, when the
// board locks the ratio, the 16:9 aspect.
func (b *Board) Resize(sourceID string, w, h int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tiles[sourceID]
	if !ok {
		return ErrNoTile
	}

	w = max(MinWidth, w)
	if b.lockRatio {
		h = w * DefaultHeight / DefaultWidth
	}
	t.W = w
	t.H = max(MinHeight, h)
	return nil
}

// Raise brings a tile to the front.
func (b *Board) Raise(sourceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tiles[sourceID]
	if !ok {
		return ErrNoTile
	}
	b.z++
	t.Z = b.z
	return nil
}

// Tiles returns the current tiles, back to front.
func (b *Board) Tiles() []Tile {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Tile, 0, len(b.tiles))
	for _, t := range b.tiles {
		tile := *t
		if b.noLabels {
			tile.Label = Label{}
		}
		out = append(out, tile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Z < out[j].Z })
	return out
}

// Len returns the number of tiles.
func (b *Board) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tiles)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

// Media returns the media handle the tile is bound to.
func (t Tile) Media() provider.Media {
	return t.media
}
