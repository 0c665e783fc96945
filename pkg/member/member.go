// Package member defines cluster members as seen by the aggregator and the
// Directory abstraction that lists them.
//
// A Directory is a read-only view over some membership source: a static file,
// an etcd prefix (see package discovery), or a fake in tests. Members are
// values constructed fresh on every listing and are never mutated.
package member

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDirectoryUnavailable wraps any failure to reach the membership source.
	ErrDirectoryUnavailable = errors.New("member directory unavailable")
	// ErrMemberNotFound is returned by Find when no listed member has the name.
	ErrMemberNotFound = errors.New("member not found")
)

// Member is one cluster participant.
type Member struct {
	Name        string `json:"name" toml:"name"`
	Address     string `json:"address,omitempty" toml:"address"`
	Port        int    `json:"port,omitempty" toml:"port"`
	ClusterName string `json:"clusterName,omitempty" toml:"cluster"`
}

// Directory lists the current members, optionally restricted to one cluster.
// An empty cluster means all clusters. An empty result is not an error.
type Directory interface {
	List(ctx context.Context, cluster string) ([]Member, error)
}

// ClusterLister is implemented by directories that know their cluster names.
type ClusterLister interface {
	ListClusters(ctx context.Context) ([]string, error)
}

// Unavailable wraps err so that errors.Is(err, ErrDirectoryUnavailable) holds.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrDirectoryUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
}

// Find lists every member and returns the first one named name.
func Find(ctx context.Context, dir Directory, name string) (Member, error) {
	members, err := dir.List(ctx, "")
	if err != nil {
		return Member{}, err
	}
	for _, m := range members {
		if m.Name == name {
			return m, nil
		}
	}
	return Member{}, fmt.Errorf("%w: %s", ErrMemberNotFound, name)
}

// Clusters returns the distinct cluster names of members in listing order.
// Directories implementing ClusterLister answer directly.
func Clusters(ctx context.Context, dir Directory) ([]string, error) {
	if cl, ok := dir.(ClusterLister); ok {
		return cl.ListClusters(ctx)
	}
	members, err := dir.List(ctx, "")
	if err != nil {
		return nil, err
	}
	return distinctClusters(members), nil
}

func distinctClusters(members []Member) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, m := range members {
		if m.ClusterName == "" {
			continue
		}
		if _, ok := seen[m.ClusterName]; ok {
			continue
		}
		seen[m.ClusterName] = struct{}{}
		out = append(out, m.ClusterName)
	}
	return out
}
