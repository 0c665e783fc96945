// Package discovery backs member.Directory with etcd. Agents register
// themselves under a lease; the aggregator lists the prefix.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/clustercounter/pkg/member"
)

const DefaultPrefix = "/clustercounter/members"

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// record is the JSON value stored at <prefix>/<cluster>/<name>.
type record struct {
	Address string `json:"address"`
	Port    int    `json:"port,omitempty"`
}

func memberKey(prefix string, m member.Member) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(prefix, "/"), m.ClusterName, m.Name)
}

// EtcdDirectory lists members registered under a key prefix, in registration
// order (ascending create revision).
type EtcdDirectory struct {
	kv     clientv3.KV
	prefix string
	log    *zap.Logger
}

var (
	_ member.Directory     = (*EtcdDirectory)(nil)
	_ member.ClusterLister = (*EtcdDirectory)(nil)
)

func NewEtcdDirectory(kv clientv3.KV, prefix string, log *zap.Logger) *EtcdDirectory {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EtcdDirectory{kv: kv, prefix: strings.TrimRight(prefix, "/"), log: log.Named("etcd-directory")}
}

func (d *EtcdDirectory) List(ctx context.Context, cluster string) ([]member.Member, error) {
	key := d.prefix + "/"
	if cluster != "" {
		key += cluster + "/"
	}
	resp, err := d.kv.Get(ctx, key,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend))
	if err != nil {
		return nil, directoryErr(ctx, err)
	}

	out := make([]member.Member, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		m, err := d.decode(string(kv.Key), kv.Value)
		if err != nil {
			d.log.Warn("skipping malformed member record", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (d *EtcdDirectory) ListClusters(ctx context.Context) ([]string, error) {
	resp, err := d.kv.Get(ctx, d.prefix+"/",
		clientv3.WithPrefix(),
		clientv3.WithKeysOnly(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend))
	if err != nil {
		return nil, directoryErr(ctx, err)
	}
	seen := make(map[string]struct{})
	out := []string{}
	for _, kv := range resp.Kvs {
		cluster, _, ok := d.splitKey(string(kv.Key))
		if !ok || cluster == "" {
			continue
		}
		if _, dup := seen[cluster]; dup {
			continue
		}
		seen[cluster] = struct{}{}
		out = append(out, cluster)
	}
	return out, nil
}

func (d *EtcdDirectory) splitKey(key string) (cluster, name string, ok bool) {
	rest, ok := strings.CutPrefix(key, d.prefix+"/")
	if !ok {
		return "", "", false
	}
	cluster, name, ok = strings.Cut(rest, "/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return cluster, name, true
}

func (d *EtcdDirectory) decode(key string, value []byte) (member.Member, error) {
	cluster, name, ok := d.splitKey(key)
	if !ok {
		return member.Member{}, errors.New("key does not match <prefix>/<cluster>/<name>")
	}
	var rec record
	if len(value) > 0 {
		if err := json.Unmarshal(value, &rec); err != nil {
			return member.Member{}, fmt.Errorf("decode value: %w", err)
		}
	}
	return member.Member{Name: name, Address: rec.Address, Port: rec.Port, ClusterName: cluster}, nil
}

func directoryErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return member.Unavailable(fmt.Errorf("etcd get: %w", err))
}

// RegisterMember writes m under prefix with a lease of ttl seconds and keeps the
// lease alive until the returned cancel func is called.
func RegisterMember(cli *clientv3.Client, prefix string, m member.Member, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, err
	}
	val, err := json.Marshal(record{Address: m.Address, Port: m.Port})
	if err != nil {
		return 0, nil, err
	}
	if _, err := cli.Put(ctx, memberKey(prefix, m), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, err
	}

	kaCtx, kaCancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		kaCancel()
		return 0, nil, err
	}
	go func() {
		for range ch {
		}
	}()

	return lease.ID, kaCancel, nil
}

// WatchMembers calls fn with the full member list every time anything under
// prefix changes, until ctx is done.
func WatchMembers(ctx context.Context, cli *clientv3.Client, dir *EtcdDirectory, fn func([]member.Member)) {
	wch := cli.Watch(ctx, dir.prefix+"/", clientv3.WithPrefix())
	go func() {
		for wresp := range wch {
			if err := wresp.Err(); err != nil {
				dir.log.Warn("member watch error", zap.Error(err))
				continue
			}
			members, err := dir.List(ctx, "")
			if err != nil {
				dir.log.Warn("member relist failed", zap.Error(err))
				continue
			}
			fn(members)
		}
	}()
}
