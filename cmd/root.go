package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/devicehub/internal/config"
	"github.com/BioHazard786/devicehub/internal/session"
	"github.com/BioHazard786/devicehub/internal/ui"
	"github.com/BioHazard786/devicehub/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	flagConfig   string
	flagDomain   string
	flagBroker   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagLabel    string
	flagPlain    bool
	flagMetrics  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "devicehub",
	Short: "Collect cameras and windows from nearby devices onto one screen",
	Long: `DeviceHub joins devices into a room identified by a short code. The first
device in a room becomes the host and shows a canvas; every other device joins
as a guest and can offer camera or window sources that the host displays,
hides, or removes. Devices reach each other over WebRTC, introduced by an
identity broker.`,
	Version: version.Version,
}

// networkFlags are shared by every command that opens a session.
func networkFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("network", pflag.ExitOnError)
	fs.StringVar(&flagDomain, "domain", "", "Public domain used for room links")
	fs.StringVarP(&flagBroker, "broker", "b", "", "Identity broker websocket URL")
	fs.StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	fs.StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	fs.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	fs.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	fs.BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	fs.StringVarP(&flagLabel, "label", "l", "", "Name shown to other devices")
	fs.BoolVar(&flagPlain, "plain", false, "Use the line console instead of the interactive one")
	return fs
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to devicehub.yaml")
	rootCmd.PersistentFlags().StringVar(&flagMetrics, "metrics", "", "Serve prometheus metrics on this address")
}

// LoadConfig resolves configuration from flags, environment and file.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ConfigPath: flagConfig,
		Domain:     flagDomain,
		Broker:     flagBroker,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
		Label:      flagLabel,
		Metrics:    flagMetrics,
	})
	if err != nil {
		return nil, session.NewError("load config", err)
	}
	return cfg, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
