package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Domain != DefaultDomain {
		t.Errorf("domain = %q, want %q", cfg.Domain, DefaultDomain)
	}
	if got := cfg.WebSocketURL(); got != "wss://devicehub.qzz.io/ws" {
		t.Errorf("websocket url = %q", got)
	}
	if !reflect.DeepEqual(cfg.GetSTUNServers(), DefaultSTUN) {
		t.Errorf("stun = %v, want %v", cfg.GetSTUNServers(), DefaultSTUN)
	}
	if cfg.GetTURNServers() != nil {
		t.Errorf("turn servers should be empty by default")
	}
	if cfg.Settings.Resolution != "720" || cfg.Settings.FrameRate != 30 {
		t.Errorf("settings = %+v", cfg.Settings)
	}
	if w, h := cfg.Settings.Dimensions(); w != 1280 || h != 720 {
		t.Errorf("dimensions = %dx%d", w, h)
	}
}

func TestLoadPrecedence(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	dir := t.TempDir()
	path := filepath.Join(dir, "devicehub.yaml")
	body := "domain: file.example\nlabel: from-file\nsettings:\n  frame_rate: 15\n  resolution: \"1080\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DEVICEHUB_LABEL", "from-env")
	t.Setenv("TURN_SERVER", "turn.example")

	cfg, err := Load(Options{ConfigPath: path, Label: "from-flag"})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Domain != "file.example" {
		t.Errorf("domain = %q, want file value", cfg.Domain)
	}
	if cfg.Label != "from-flag" {
		t.Errorf("label = %q, flag should win", cfg.Label)
	}
	if cfg.Settings.FrameRate != 15 || cfg.Settings.Resolution != "1080" {
		t.Errorf("settings = %+v", cfg.Settings)
	}
	if cfg.TURNServer != "turn.example" {
		t.Errorf("legacy TURN_SERVER not applied: %q", cfg.TURNServer)
	}

	cfg, err = Load(Options{ConfigPath: path})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Label != "from-env" {
		t.Errorf("label = %q, env should beat file", cfg.Label)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(Options{ConfigPath: filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{Domain: DefaultDomain, Settings: Settings{Resolution: "720", FrameRate: 30}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"relay without turn", func(c *Config) { c.ForceRelay = true }, true},
		{"relay with turn", func(c *Config) { c.ForceRelay = true; c.TURNServer = "t" }, false},
		{"bad resolution", func(c *Config) { c.Settings.Resolution = "999" }, true},
		{"zero frame rate", func(c *Config) { c.Settings.FrameRate = 0 }, true},
		{"http broker", func(c *Config) { c.Broker = "http://localhost:8080/ws" }, true},
		{"ws broker", func(c *Config) { c.Broker = "ws://localhost:8080/ws" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRoomLinkAndTURN(t *testing.T) {
	c := Config{Domain: "example.org", TURNServer: "turn:relay.example.org"}

	if got := c.GetRoomLink("ABC-123"); got != "https://example.org/?room=ABC-123" {
		t.Errorf("room link = %q", got)
	}

	want := []string{
		"turn:relay.example.org:3478?transport=udp",
		"turn:relay.example.org:3478?transport=tcp",
		"turns:relay.example.org:5349?transport=tcp",
	}
	if got := c.GetTURNServers(); !reflect.DeepEqual(got, want) {
		t.Errorf("turn servers = %v, want %v", got, want)
	}
}
