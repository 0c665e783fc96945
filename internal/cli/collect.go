package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ryandielhenn/clustercounter/pkg/aggregator"
)

func newCollectCmd(v *viper.Viper) *cobra.Command {
	var cluster, memberName string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect counters once and print the report as JSON",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd.Flags(), directoryFlags, aggregatorFlags)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(v)
			if err != nil {
				return err
			}
			defer a.close()

			dir, _, closeDir, err := a.directory()
			if err != nil {
				return err
			}
			defer closeDir()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			agg := aggregator.New(dir, a.cfg.Aggregator.Options, a.log)
			return runCollect(ctx, agg, cluster, memberName, cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&cluster, "cluster", "", "only collect members of this cluster")
	fs.StringVar(&memberName, "member", "", "collect a single member by name")
	addDirectoryFlags(fs)
	addAggregatorFlags(fs)
	return cmd
}

func runCollect(ctx context.Context, agg *aggregator.Aggregator, cluster, memberName string, out io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if memberName != "" {
		res, err := agg.CollectOne(ctx, memberName)
		if err != nil {
			return err
		}
		return enc.Encode(res)
	}

	rep, err := agg.Collect(ctx, cluster)
	if err != nil {
		return err
	}
	return enc.Encode(rep)
}
