package cli

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ryandielhenn/clustercounter/discovery"
	"github.com/ryandielhenn/clustercounter/internal/config"
	"github.com/ryandielhenn/clustercounter/internal/telemetry"
	"github.com/ryandielhenn/clustercounter/pkg/counter"
	"github.com/ryandielhenn/clustercounter/pkg/member"
)

var agentFlags = map[string]string{
	config.KeyAgentListen:   "listen",
	config.KeyMemberName:    "name",
	config.KeyMemberCluster: "cluster",
	config.KeyMemberAddress: "address",
	config.KeyMemberPort:    "port",
	config.KeyEtcdEndpoints: "etcd",
	config.KeyEtcdPrefix:    "etcd-prefix",
	config.KeyEtcdLeaseTTL:  "lease-ttl",
}

func newAgentCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Serve this member's request counter",
		Long:  "agent owns the member's request counter and serves GET /counter, GET|POST /counter/increment and POST /counter/reset. With --etcd it registers itself in the member directory under a lease.",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd.Flags(), agentFlags)
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := wireApp(v)
			if err != nil {
				return err
			}
			defer a.close()
			return runAgent(a)
		},
	}

	fs := cmd.Flags()
	fs.String("listen", ":9080", "listen address")
	fs.String("name", "", "member name (default $MEMBER_NAME or unknown-member)")
	fs.String("cluster", "default", "cluster this member belongs to")
	fs.String("address", "", "address the aggregator should use to reach this agent")
	fs.Int("port", 9080, "port the aggregator should use to reach this agent")
	fs.StringSlice("etcd", nil, "etcd endpoints to register with")
	fs.String("etcd-prefix", "/clustercounter/members", "etcd key prefix for member records")
	fs.Int64("lease-ttl", 10, "registration lease TTL in seconds")
	return cmd
}

func runAgent(a *app) error {
	cfg := a.cfg.Agent
	agent := counter.NewAgent(cfg.Name)
	agent.OnReset(func(counter.Snapshot) { telemetry.CounterResets.Inc() })
	if err := telemetry.ObserveCounter(agent.MemberName(), func() float64 {
		return float64(agent.Read().Counter)
	}); err != nil {
		return err
	}

	if a.cfg.Etcd.Enabled() {
		cli, err := discovery.NewClient(a.cfg.Etcd.Endpoints)
		if err != nil {
			return err
		}
		defer cli.Close()

		self := member.Member{
			Name:        agent.MemberName(),
			Address:     cfg.Address,
			Port:        cfg.Port,
			ClusterName: cfg.Cluster,
		}
		leaseID, cancel, err := discovery.RegisterMember(cli, a.cfg.Etcd.Prefix, self, a.cfg.Etcd.LeaseTTL)
		if err != nil {
			return err
		}
		a.log.Info("registered with etcd",
			zap.String("member", self.Name), zap.String("cluster", self.ClusterName), zap.Int64("lease", int64(leaseID)))
		defer func() {
			cancel()
			ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_, _ = cli.Revoke(ctx, leaseID)
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           counter.NewServer(agent, a.log).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.log.Info("counter agent starting", zap.String("member", agent.MemberName()))
	return serveUntilSignal(a.log, srv)
}
