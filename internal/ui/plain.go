package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Pretty writes the grid as a go-pretty table.
func (g Grid) Pretty(w io.Writer) {
	if len(g.Rows) == 0 {
		fmt.Fprintln(w, g.Empty)
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)

	header := make(table.Row, len(g.Headers))
	for i, h := range g.Headers {
		header[i] = h
	}
	t.AppendHeader(header)

	for _, r := range g.Rows {
		row := make(table.Row, len(r))
		for i, c := range r {
			row[i] = c
		}
		t.AppendRow(row)
	}
	t.Render()
}

// Plain is a line-oriented console for pipes and dumb terminals.
type Plain struct {
	In  io.Reader
	Out io.Writer
}

// Run reads commands until EOF, quit, or ctx ending. Events are printed as
// they arrive between commands.
func (p Plain) Run(ctx context.Context, ctrl Controller) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(p.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	fmt.Fprintln(p.Out, ctrl.Header())
	fmt.Fprintln(p.Out, "type help for commands")

	events := ctrl.Events()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-events:
			if s := ctrl.Describe(ev); s != "" {
				fmt.Fprintln(p.Out, s)
			}

		case err := <-readErr:
			return err

		case line := <-lines:
			out, err := ctrl.Exec(ctx, strings.Fields(line))
			if err != nil {
				fmt.Fprintf(p.Out, "error: %v\n", err)
				continue
			}
			if out.Grid != nil {
				out.Grid.Pretty(p.Out)
			}
			if out.Text != "" {
				fmt.Fprintln(p.Out, out.Text)
			}
			if out.Quit {
				return nil
			}
		}
	}
}
