// Package config loads process configuration from flags, environment
// variables (CLUSTERCOUNTER_*) and an optional config file through viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ryandielhenn/clustercounter/pkg/aggregator"
)

const envPrefix = "CLUSTERCOUNTER"

// Keys shared between cobra flag bindings and Load.
const (
	KeyConfigFile = "config"

	KeyLogLevel       = "log.level"
	KeyLogDevelopment = "log.development"

	KeyAgentListen   = "agent.listen"
	KeyMemberName    = "member.name"
	KeyMemberCluster = "member.cluster"
	KeyMemberAddress = "member.address"
	KeyMemberPort    = "member.port"

	KeyEtcdEndpoints = "etcd.endpoints"
	KeyEtcdPrefix    = "etcd.prefix"
	KeyEtcdLeaseTTL  = "etcd.lease_ttl"

	KeyDirectoryFile = "directory.file"

	KeyAggregatorListen   = "aggregator.listen"
	KeyConnectTimeout     = "aggregator.connect_timeout"
	KeyReadTimeout        = "aggregator.read_timeout"
	KeyConcurrency        = "aggregator.concurrency"
	KeyDefaultPort        = "aggregator.default_port"
	KeyScheme             = "aggregator.scheme"
	KeyInsecureSkipVerify = "aggregator.insecure_skip_verify"
)

type Config struct {
	Log        LogConfig
	Agent      AgentConfig
	Etcd       EtcdConfig
	Directory  DirectoryConfig
	Aggregator AggregatorConfig
}

type LogConfig struct {
	Level       string
	Development bool
}

// AgentConfig describes this process when it runs as a counter agent.
type AgentConfig struct {
	Listen  string
	Name    string
	Cluster string
	Address string
	Port    int
}

type EtcdConfig struct {
	Endpoints []string
	Prefix    string
	LeaseTTL  int64
}

// Enabled reports whether an etcd directory is configured.
func (e EtcdConfig) Enabled() bool {
	return len(e.Endpoints) > 0
}

type DirectoryConfig struct {
	// File is a TOML member list used when etcd is not configured.
	File string
}

type AggregatorConfig struct {
	Listen  string
	Options aggregator.Options
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// the member app historically read MEMBER_NAME
	_ = v.BindEnv(KeyMemberName, envPrefix+"_MEMBER_NAME", "MEMBER_NAME")

	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogDevelopment, false)
	v.SetDefault(KeyAgentListen, ":9080")
	v.SetDefault(KeyMemberName, "")
	v.SetDefault(KeyMemberCluster, "default")
	v.SetDefault(KeyMemberPort, 9080)
	v.SetDefault(KeyEtcdPrefix, "/clustercounter/members")
	v.SetDefault(KeyEtcdLeaseTTL, 10)
	v.SetDefault(KeyAggregatorListen, ":8080")
	v.SetDefault(KeyConnectTimeout, aggregator.DefaultConnectTimeout)
	v.SetDefault(KeyReadTimeout, aggregator.DefaultReadTimeout)
	v.SetDefault(KeyConcurrency, aggregator.DefaultConcurrency)
	v.SetDefault(KeyDefaultPort, aggregator.DefaultAgentPort)
	v.SetDefault(KeyScheme, aggregator.DefaultScheme)
	v.SetDefault(KeyInsecureSkipVerify, false)
	return v
}

// Load reads the optional config file named by KeyConfigFile and returns the
// typed configuration.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Log: LogConfig{
			Level:       v.GetString(KeyLogLevel),
			Development: v.GetBool(KeyLogDevelopment),
		},
		Agent: AgentConfig{
			Listen:  v.GetString(KeyAgentListen),
			Name:    v.GetString(KeyMemberName),
			Cluster: v.GetString(KeyMemberCluster),
			Address: v.GetString(KeyMemberAddress),
			Port:    v.GetInt(KeyMemberPort),
		},
		Etcd: EtcdConfig{
			Endpoints: splitList(v.GetStringSlice(KeyEtcdEndpoints)),
			Prefix:    v.GetString(KeyEtcdPrefix),
			LeaseTTL:  v.GetInt64(KeyEtcdLeaseTTL),
		},
		Directory: DirectoryConfig{
			File: v.GetString(KeyDirectoryFile),
		},
		Aggregator: AggregatorConfig{
			Listen: v.GetString(KeyAggregatorListen),
			Options: aggregator.Options{
				ConnectTimeout:     v.GetDuration(KeyConnectTimeout),
				ReadTimeout:        v.GetDuration(KeyReadTimeout),
				Concurrency:        v.GetInt(KeyConcurrency),
				DefaultPort:        v.GetInt(KeyDefaultPort),
				Scheme:             v.GetString(KeyScheme),
				InsecureSkipVerify: v.GetBool(KeyInsecureSkipVerify),
			},
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	o := c.Aggregator.Options
	if o.ConnectTimeout < time.Millisecond {
		errs = append(errs, fmt.Errorf("%s must be at least 1ms", KeyConnectTimeout))
	}
	if o.ReadTimeout < time.Millisecond {
		errs = append(errs, fmt.Errorf("%s must be at least 1ms", KeyReadTimeout))
	}
	if o.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyConcurrency))
	}
	if o.Scheme != "http" && o.Scheme != "https" {
		errs = append(errs, fmt.Errorf("%s must be http or https, got %q", KeyScheme, o.Scheme))
	}
	if c.Etcd.Enabled() && c.Etcd.LeaseTTL < 1 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyEtcdLeaseTTL))
	}
	return errors.Join(errs...)
}

// splitList accepts both repeated values and a single comma-separated env value.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
