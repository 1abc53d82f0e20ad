package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/BioHazard786/devicehub/internal/canvas"
	"github.com/BioHazard786/devicehub/internal/capture"
	"github.com/BioHazard786/devicehub/internal/config"
	"github.com/BioHazard786/devicehub/internal/logging"
	"github.com/BioHazard786/devicehub/internal/metrics"
	"github.com/BioHazard786/devicehub/internal/protocol"
	"github.com/BioHazard786/devicehub/internal/provider/rtc"
	"github.com/BioHazard786/devicehub/internal/registry"
	"github.com/BioHazard786/devicehub/internal/session"
	"github.com/BioHazard786/devicehub/internal/ui"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// runRoom negotiates a role in room and runs the matching console until
// the user quits, the session ends, or ctx is cancelled.
func runRoom(ctx context.Context, room string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	p, err := rtc.New(cfg, logging.Component("rtc"))
	if err != nil {
		return session.NewError("start webrtc", err)
	}

	info := protocol.LocalPeerInfo(cfg.Label, "")
	n := &session.Negotiator{Provider: p, Info: info, Log: logging.Component("session")}

	sp := ui.RunConnectionSpinner("Connecting to room...")
	sess, err := n.Negotiate(ctx, room)
	if err != nil {
		sp.Error("Could not open the room")
		return err
	}
	defer sess.Close()
	sp.Success(fmt.Sprintf("Connected as %s", sess.Role))

	code := sess.Room.String()
	fmt.Println(ui.RoomInfo{Room: code, Link: cfg.GetRoomLink(code), Role: sess.Role.String()}.View())
	fmt.Println()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var ctrl ui.Controller
	switch sess.Role {
	case session.RoleHost:
		ctrl = startHost(gctx, g, cfg, sess, info)
	default:
		ctrl = startGuest(gctx, g, cfg, sess, info)
	}

	g.Go(func() error {
		defer cancel()
		return runConsole(gctx, ctrl)
	})
	return g.Wait()
}

func startHost(ctx context.Context, g *errgroup.Group, cfg *config.Config, sess *session.Session, info protocol.PeerInfo) ui.Controller {
	board := canvas.NewBoard(cfg.Settings.CanvasWidth, cfg.Settings.CanvasHeight, !cfg.Settings.FreeResize)
	board.HideLabels(cfg.Settings.HideLabels)

	info.Room = sess.Room.String()
	reg := registry.New(sess.Endpoint, info, board, logging.Component("registry"))

	if cfg.Metrics != "" {
		promReg := prometheus.NewRegistry()
		reg.SetMetrics(metrics.NewHost(promReg))
		srv := metrics.NewServer(cfg.Metrics, promReg, logging.Component("metrics"))
		g.Go(func() error { return srv.Run(ctx) })
	}

	g.Go(func() error { return reg.Run(ctx) })
	return &ui.HostController{Registry: reg, Board: board, Room: sess.Room}
}

func startGuest(ctx context.Context, g *errgroup.Group, cfg *config.Config, sess *session.Session, info protocol.PeerInfo) ui.Controller {
	width, height := cfg.Settings.Dimensions()
	opts := capture.Options{Width: width, Height: height, FrameRate: cfg.Settings.FrameRate}

	info.Room = sess.Room.String()
	guest := registry.NewGuest(sess, info, opts, logging.Component("guest"))

	g.Go(func() error { return guest.Run(ctx) })
	return &ui.GuestController{Guest: guest, Room: sess.Room}
}

func runConsole(ctx context.Context, ctrl ui.Controller) error {
	if flagPlain || !isatty.IsTerminal(os.Stdin.Fd()) {
		return ui.Plain{In: os.Stdin, Out: os.Stdout}.Run(ctx, ctrl)
	}
	return ui.RunConsole(ctx, ctrl)
}
