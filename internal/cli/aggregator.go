package cli

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ryandielhenn/clustercounter/discovery"
	"github.com/ryandielhenn/clustercounter/internal/api"
	"github.com/ryandielhenn/clustercounter/internal/config"
	"github.com/ryandielhenn/clustercounter/pkg/aggregator"
	"github.com/ryandielhenn/clustercounter/pkg/member"
)

func newAggregatorCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregator",
		Short: "Serve the cluster-wide counter REST API",
		Long:  "aggregator lists members from etcd or a TOML file and serves GET /counters, /counters/{member}, /members, /cluster?clusterName=X and /clusters.",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd.Flags(), directoryFlags, aggregatorFlags,
				map[string]string{config.KeyAggregatorListen: "listen"})
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := wireApp(v)
			if err != nil {
				return err
			}
			defer a.close()
			return runAggregator(a)
		},
	}

	fs := cmd.Flags()
	fs.String("listen", ":8080", "listen address")
	addDirectoryFlags(fs)
	addAggregatorFlags(fs)
	return cmd
}

func runAggregator(a *app) error {
	dir, cli, closeDir, err := a.directory()
	if err != nil {
		return err
	}
	defer closeDir()

	if ed, ok := dir.(*discovery.EtcdDirectory); ok && cli != nil {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		discovery.WatchMembers(ctx, cli, ed, func(ms []member.Member) {
			names := make([]string, len(ms))
			for i, m := range ms {
				names[i] = m.Name
			}
			a.log.Info("membership changed", zap.Int("members", len(ms)), zap.Strings("names", names))
		})
	}

	agg := aggregator.New(dir, a.cfg.Aggregator.Options, a.log)
	e := api.NewServer(agg, a.log)

	srv := &http.Server{
		Addr:              a.cfg.Aggregator.Listen,
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return serveUntilSignal(a.log, srv)
}
