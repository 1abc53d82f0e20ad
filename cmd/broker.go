package cmd

import (
	"github.com/BioHazard786/devicehub/internal/broker"
	"github.com/BioHazard786/devicehub/internal/logging"
	"github.com/BioHazard786/devicehub/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	flagAddr  string
	flagRate  float64
	flagBurst int
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run the identity broker",
	Long: `Run the identity broker that devices bind their identities on and exchange
connection offers through. It serves the websocket at /ws, a health check at
/health and prometheus metrics at /metrics.

Examples:
  devicehub broker
  devicehub broker --addr :9000 --metrics :9100`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.Component("broker")

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		srv := broker.New(broker.Options{
			Addr:  flagAddr,
			Rate:  rate.Limit(flagRate),
			Burst: flagBurst,
		}, reg, log)

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error { return srv.Run(ctx) })
		if flagMetrics != "" {
			m := metrics.NewServer(flagMetrics, reg, logging.Component("metrics"))
			g.Go(func() error { return m.Run(ctx) })
		}
		return g.Wait()
	},
}

func init() {
	brokerCmd.Flags().StringVarP(&flagAddr, "addr", "a", ":8080", "Listen address")
	brokerCmd.Flags().Float64Var(&flagRate, "rate", float64(broker.DefaultRate), "Messages per second allowed per connection")
	brokerCmd.Flags().IntVar(&flagBurst, "burst", broker.DefaultBurst, "Message burst allowed per connection")
	rootCmd.AddCommand(brokerCmd)
}
