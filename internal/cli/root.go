// Package cli builds the clustercounter command tree.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ryandielhenn/clustercounter/internal/config"
	"github.com/ryandielhenn/clustercounter/internal/telemetry"
)

// BuildInfo is stamped into the binary with -ldflags.
type BuildInfo struct {
	Version string
	GitSHA  string
}

func Execute(info BuildInfo) error {
	return NewRootCmd(info).Execute()
}

func NewRootCmd(info BuildInfo) *cobra.Command {
	v := config.New()

	rootCmd := &cobra.Command{
		Use:           "clustercounter",
		Short:         "Per-member request counters and a cluster-wide aggregator",
		Long:          "clustercounter runs a request counter agent next to each cluster member and an aggregator that collects every member's counter into one report.",
		Version:       info.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			telemetry.SetBuildInfo(info.Version, info.GitSHA)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (toml, yaml or json)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.Bool("log-dev", false, "human-readable development logging")
	bind(v, pf, config.KeyConfigFile, "config")
	bind(v, pf, config.KeyLogLevel, "log-level")
	bind(v, pf, config.KeyLogDevelopment, "log-dev")

	rootCmd.AddCommand(
		newAgentCmd(v),
		newAggregatorCmd(v),
		newCollectCmd(v),
		newBenchCmd(),
	)
	return rootCmd
}

func bind(v *viper.Viper, fs *pflag.FlagSet, key, flag string) {
	if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
		panic(err)
	}
}

// Flag-to-key tables. Several commands define the same flags, so each
// command binds its own flag set in PreRunE rather than at construction.
var (
	directoryFlags = map[string]string{
		config.KeyEtcdEndpoints: "etcd",
		config.KeyEtcdPrefix:    "etcd-prefix",
		config.KeyDirectoryFile: "members-file",
	}
	aggregatorFlags = map[string]string{
		config.KeyConnectTimeout:     "connect-timeout",
		config.KeyReadTimeout:        "read-timeout",
		config.KeyConcurrency:        "concurrency",
		config.KeyDefaultPort:        "default-port",
		config.KeyScheme:             "scheme",
		config.KeyInsecureSkipVerify: "insecure-skip-verify",
	}
)

func addDirectoryFlags(fs *pflag.FlagSet) {
	fs.StringSlice("etcd", nil, "etcd endpoints backing the member directory")
	fs.String("etcd-prefix", "/clustercounter/members", "etcd key prefix for member records")
	fs.String("members-file", "", "TOML member list, used when --etcd is not set")
}

func addAggregatorFlags(fs *pflag.FlagSet) {
	fs.Duration("connect-timeout", 0, "per-member connect timeout (default 5s)")
	fs.Duration("read-timeout", 0, "per-member read timeout (default 5s)")
	fs.Int("concurrency", 0, "maximum members queried at once (default 16)")
	fs.Int("default-port", 0, "agent port for members that carry none (default 9080)")
	fs.String("scheme", "", "agent URL scheme, http or https (default http)")
	fs.Bool("insecure-skip-verify", false, "skip TLS verification of agents")
}

// bindFlags binds every flag in tables that fs defines. Unchanged flags do
// not shadow viper defaults, env or config file values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, tables ...map[string]string) error {
	for _, table := range tables {
		for key, name := range table {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}
