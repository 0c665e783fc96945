package discovery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ryandielhenn/clustercounter/pkg/member"
)

// fakeKV answers Get from an ordered slice, filtering by key prefix.
type fakeKV struct {
	clientv3.KV
	kvs  []*mvccpb.KeyValue
	err  error
	keys []string
}

func (f *fakeKV) Get(ctx context.Context, key string, _ ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	resp := &clientv3.GetResponse{}
	for _, kv := range f.kvs {
		if strings.HasPrefix(string(kv.Key), key) {
			resp.Kvs = append(resp.Kvs, kv)
		}
	}
	return resp, nil
}

func kv(key, value string) *mvccpb.KeyValue {
	return &mvccpb.KeyValue{Key: []byte(key), Value: []byte(value)}
}

func TestEtcdDirectoryList(t *testing.T) {
	f := &fakeKV{kvs: []*mvccpb.KeyValue{
		kv("/cc/blue/m2", `{"address":"h2","port":9080}`),
		kv("/cc/blue/m1", `{"address":"h1"}`),
		kv("/cc/green/m3", `{}`),
		kv("/cc/green/bad", `not json`),
		kv("/cc/orphan", `{"address":"hx"}`),
	}}
	dir := NewEtcdDirectory(f, "/cc/", nil)

	got, err := dir.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []member.Member{
		{Name: "m2", Address: "h2", Port: 9080, ClusterName: "blue"},
		{Name: "m1", Address: "h1", ClusterName: "blue"},
		{Name: "m3", ClusterName: "green"},
	}, got)
	assert.Equal(t, "/cc/", f.keys[0])

	blue, err := dir.List(context.Background(), "blue")
	require.NoError(t, err)
	assert.Len(t, blue, 2)
	assert.Equal(t, "/cc/blue/", f.keys[1])
}

func TestEtcdDirectoryListClusters(t *testing.T) {
	f := &fakeKV{kvs: []*mvccpb.KeyValue{
		kv("/cc/blue/m1", ""),
		kv("/cc/green/m2", ""),
		kv("/cc/blue/m3", ""),
		kv("/cc//m4", ""),
	}}
	dir := NewEtcdDirectory(f, "/cc", nil)

	clusters, err := dir.ListClusters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"blue", "green"}, clusters)
}

func TestEtcdDirectoryUnavailable(t *testing.T) {
	f := &fakeKV{err: errors.New("context deadline exceeded: no leader")}
	dir := NewEtcdDirectory(f, "", nil)

	_, err := dir.List(context.Background(), "")
	assert.ErrorIs(t, err, member.ErrDirectoryUnavailable)

	_, err = dir.ListClusters(context.Background())
	assert.ErrorIs(t, err, member.ErrDirectoryUnavailable)
}

func TestEtcdDirectoryCancelled(t *testing.T) {
	f := &fakeKV{err: context.Canceled}
	dir := NewEtcdDirectory(f, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := dir.List(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, member.ErrDirectoryUnavailable)
}

func TestMemberKey(t *testing.T) {
	m := member.Member{Name: "m1", ClusterName: "blue"}
	assert.Equal(t, "/cc/blue/m1", memberKey("/cc/", m))
	assert.Equal(t, DefaultPrefix+"/blue/m1", memberKey(DefaultPrefix, m))
}
