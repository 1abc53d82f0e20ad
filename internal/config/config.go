package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/kkyr/fig"
)

// Default configuration values (production)
const (
	DefaultDomain = "devicehub.qzz.io"
	EnvPrefix     = "DEVICEHUB"
	FileName      = "devicehub.yaml"
)

// DefaultSTUN mirrors the ICE servers the web client ships with.
var DefaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:global.stun.twilio.com:3478",
}

// Resolutions maps the resolution presets to capture dimensions.
var Resolutions = map[string][2]int{
	"480":  {854, 480},
	"720":  {1280, 720},
	"1080": {1920, 1080},
	"1440": {2560, 1440},
	"2160": {3840, 2160},
}

// Config holds application configuration
type Config struct {
	// Domain is the public domain used for room links and the default broker
	Domain string `fig:"domain" default:"devicehub.qzz.io"`

	// Broker overrides the broker websocket URL derived from Domain
	Broker string `fig:"broker"`

	// ICE servers for WebRTC
	STUNServers []string `fig:"stun_servers"`
	TURNServer  string   `fig:"turn_server"`
	TURNUser    string   `fig:"turn_user"`
	TURNPass    string   `fig:"turn_pass"`
	ForceRelay  bool     `fig:"force_relay"`

	// Label replaces the detected device label in peer-info
	Label string `fig:"label"`

	// Metrics is the listen address for the host metrics endpoint, empty disables it
	Metrics string `fig:"metrics"`

	Settings Settings `fig:"settings"`
}

// Settings are the client-local display preferences.
type Settings struct {
	Resolution   string `fig:"resolution" default:"720"`
	FrameRate    int    `fig:"frame_rate" default:"30"`
	HideLabels   bool   `fig:"hide_labels"`
	FreeResize   bool   `fig:"free_resize"`
	CanvasWidth  int    `fig:"canvas_width" default:"1920"`
	CanvasHeight int    `fig:"canvas_height" default:"1080"`
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigPath string
	Domain     string
	Broker     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	Label      string
	Metrics    string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (DEVICEHUB_* and the legacy unprefixed names)
// 3. devicehub.yaml, if present
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg, err := loadFile(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	applyLegacyEnv(cfg)

	if opts.Domain != "" {
		cfg.Domain = opts.Domain
	}
	if opts.Broker != "" {
		cfg.Broker = opts.Broker
	}
	if opts.STUNServer != "" {
		cfg.STUNServers = []string{opts.STUNServer}
	}
	if opts.TURNServer != "" {
		cfg.TURNServer = opts.TURNServer
	}
	if opts.TURNUser != "" {
		cfg.TURNUser = opts.TURNUser
	}
	if opts.TURNPass != "" {
		cfg.TURNPass = opts.TURNPass
	}
	if opts.ForceRelay {
		cfg.ForceRelay = true
	}
	if opts.Label != "" {
		cfg.Label = opts.Label
	}
	if opts.Metrics != "" {
		cfg.Metrics = opts.Metrics
	}

	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = append([]string(nil), DefaultSTUN...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		err := fig.Load(&cfg,
			fig.File(filepath.Base(path)),
			fig.Dirs(filepath.Dir(path)),
			fig.UseEnv(EnvPrefix),
		)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		return &cfg, nil
	}

	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "devicehub"))
	}

	err := fig.Load(&cfg, fig.File(FileName), fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
	if errors.Is(err, fig.ErrFileNotFound) {
		cfg = Config{}
		err = fig.Load(&cfg, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

func applyLegacyEnv(cfg *Config) {
	if v := os.Getenv("DOMAIN"); v != "" {
		cfg.Domain = v
	}
	if v := os.Getenv("STUN_SERVER"); v != "" {
		cfg.STUNServers = []string{v}
	}
	if v := os.Getenv("TURN_SERVER"); v != "" {
		cfg.TURNServer = v
	}
	if v := os.Getenv("TURN_USERNAME"); v != "" {
		cfg.TURNUser = v
	}
	if v := os.Getenv("TURN_PASSWORD"); v != "" {
		cfg.TURNPass = v
	}
}

// Validate checks combinations that cannot work at runtime.
func (c *Config) Validate() error {
	if c.ForceRelay && c.TURNServer == "" {
		return fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	if _, ok := Resolutions[c.Settings.Resolution]; !ok {
		return fmt.Errorf("unsupported resolution %q", c.Settings.Resolution)
	}
	if c.Settings.FrameRate <= 0 {
		return fmt.Errorf("frame rate must be positive, got %d", c.Settings.FrameRate)
	}
	if c.Broker != "" {
		u, err := url.Parse(c.Broker)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("broker must be a ws:// or wss:// URL, got %q", c.Broker)
		}
	}
	return nil
}

// WebSocketURL returns the broker endpoint.
func (c *Config) WebSocketURL() string {
	if c.Broker != "" {
		return c.Broker
	}
	return fmt.Sprintf("wss://%s/ws", c.Domain)
}

// GetRoomLink returns the shareable URL for a room code
func (c *Config) GetRoomLink(room string) string {
	return fmt.Sprintf("https://%s/?room=%s", c.Domain, url.QueryEscape(room))
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	out := make([]string, 0, len(c.STUNServers))
	for _, s := range c.STUNServers {
		if !strings.HasPrefix(s, "stun:") {
			s = "stun:" + s
		}
		out = append(out, s)
	}
	return out
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// Dimensions returns the capture width and height for the configured resolution.
func (s Settings) Dimensions() (int, int) {
	d, ok := Resolutions[s.Resolution]
	if !ok {
		d = Resolutions["720"]
	}
	return d[0], d[1]
}
