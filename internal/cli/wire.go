package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/clustercounter/discovery"
	"github.com/ryandielhenn/clustercounter/internal/config"
	"github.com/ryandielhenn/clustercounter/internal/logging"
	"github.com/ryandielhenn/clustercounter/pkg/member"
)

var errNoDirectory = errors.New("no member directory configured: set --etcd or --members-file")

// app is the loaded configuration plus the process-wide logger.
type app struct {
	cfg *config.Config
	log *zap.Logger
}

func wireApp(v *viper.Viper) (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log}, nil
}

func (a *app) close() {
	_ = a.log.Sync()
}

// directory builds the configured member directory. The returned etcd client
// is nil when the directory is file-backed; closeFn is always safe to call.
func (a *app) directory() (member.Directory, *clientv3.Client, func(), error) {
	switch {
	case a.cfg.Etcd.Enabled():
		cli, err := discovery.NewClient(a.cfg.Etcd.Endpoints)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("etcd client: %w", err)
		}
		a.log.Info("using etcd member directory",
			zap.Strings("endpoints", a.cfg.Etcd.Endpoints), zap.String("prefix", a.cfg.Etcd.Prefix))
		dir := discovery.NewEtcdDirectory(cli, a.cfg.Etcd.Prefix, a.log)
		return dir, cli, func() { _ = cli.Close() }, nil
	case a.cfg.Directory.File != "":
		dir, err := member.LoadStaticFile(a.cfg.Directory.File)
		if err != nil {
			return nil, nil, nil, err
		}
		a.log.Info("using static member directory", zap.String("file", a.cfg.Directory.File))
		return dir, nil, func() {}, nil
	default:
		return nil, nil, nil, errNoDirectory
	}
}
