package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/BioHazard786/devicehub/internal/rendezvous"
)

func TestJoinRejectsMalformedCode(t *testing.T) {
	for _, arg := range []string{"AB", "a-b-c", "https://devicehub.qzz.io/?room=", "   "} {
		t.Run(arg, func(t *testing.T) {
			joinCmd.SetContext(context.Background())
			err := joinCmd.RunE(joinCmd, []string{arg})
			if !errors.Is(err, rendezvous.ErrMalformedRoomCode) {
				t.Errorf("join %q = %v, want malformed room code", arg, err)
			}
		})
	}
}

func TestLoadConfigFlags(t *testing.T) {
	defer func() {
		flagRelay, flagTURN, flagLabel, flagBroker = false, "", "", ""
	}()

	flagLabel = "studio"
	flagBroker = "ws://localhost:8080/ws"
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Label != "studio" || cfg.WebSocketURL() != "ws://localhost:8080/ws" {
		t.Errorf("cfg = %+v", cfg)
	}

	flagRelay = true
	if _, err := LoadConfig(); err == nil {
		t.Error("relay without TURN accepted")
	}
	flagTURN = "turn.example.com"
	if _, err := LoadConfig(); err != nil {
		t.Errorf("relay with TURN: %v", err)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"new": false, "join": false, "broker": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}
