package member

import (
	"context"
	"fmt"
	"os"
	"slices"

	toml "github.com/pelletier/go-toml/v2"
)

// StaticDirectory serves a fixed member list in insertion order.
type StaticDirectory struct {
	members []Member
}

var (
	_ Directory     = (*StaticDirectory)(nil)
	_ ClusterLister = (*StaticDirectory)(nil)
)

func NewStaticDirectory(members ...Member) *StaticDirectory {
	return &StaticDirectory{members: slices.Clone(members)}
}

type staticFile struct {
	Members []Member `toml:"members"`
}

// LoadStaticFile reads members from a TOML file of the form
//
//	[[members]]
//	name = "m1"
//	address = "10.0.0.1"
//	port = 9443
//	cluster = "blue"
func LoadStaticFile(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read member file: %w", err)
	}
	return ParseStatic(data)
}

// ParseStatic decodes the TOML member list format accepted by LoadStaticFile.
func ParseStatic(data []byte) (*StaticDirectory, error) {
	var f staticFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode member file: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Members))
	for i, m := range f.Members {
		if m.Name == "" {
			return nil, fmt.Errorf("member #%d: name is required", i+1)
		}
		if _, dup := seen[m.Name]; dup {
			return nil, fmt.Errorf("member %q listed twice", m.Name)
		}
		seen[m.Name] = struct{}{}
	}
	return &StaticDirectory{members: f.Members}, nil
}

func (d *StaticDirectory) List(ctx context.Context, cluster string) ([]Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Member, 0, len(d.members))
	for _, m := range d.members {
		if cluster != "" && m.ClusterName != cluster {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (d *StaticDirectory) ListClusters(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return distinctClusters(d.members), nil
}
