package member

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHostPort(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"h1", "h1:8080"},
		{"h1:9000", "h1:9000"},
		{"http://h1", "h1:8080"},
		{"https://h1:9443/", "h1:9443"},
		{"::1", "[::1]:8080"},
		{"[::1]:7000", "[::1]:7000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeHostPort(tt.in, "8080"), tt.in)
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		m       Member
		scheme  string
		want    string
		wantErr error
	}{
		{"default port", Member{Name: "m1", Address: "h1"}, "https", "https://h1:9443", nil},
		{"member port", Member{Name: "m1", Address: "h1", Port: 9080}, "http", "http://h1:9080", nil},
		{"address port wins", Member{Name: "m1", Address: "h1:7000", Port: 9080}, "http", "http://h1:7000", nil},
		{"address scheme wins", Member{Name: "m1", Address: "https://h1"}, "http", "https://h1:9443", nil},
		{"empty scheme", Member{Name: "m1", Address: "h1"}, "", "http://h1:9443", nil},
		{"no address", Member{Name: "m1"}, "http", "", ErrNoAddress},
		{"blank address", Member{Name: "m1", Address: "  "}, "http", "", ErrNoAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BaseURL(tt.m, tt.scheme, 9443)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStaticDirectoryListPreservesOrder(t *testing.T) {
	dir := NewStaticDirectory(
		Member{Name: "z", Address: "hz", ClusterName: "blue"},
		Member{Name: "a", Address: "ha", ClusterName: "green"},
		Member{Name: "m", Address: "hm", ClusterName: "blue"},
	)
	ctx := context.Background()

	all, err := dir.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"z", "a", "m"}, names(all))

	blue, err := dir.List(ctx, "blue")
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "m"}, names(blue))

	none, err := dir.List(ctx, "red")
	require.NoError(t, err)
	assert.Empty(t, none)

	clusters, err := Clusters(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"blue", "green"}, clusters)
}

func TestParseStatic(t *testing.T) {
	data := []byte(`
[[members]]
name = "m1"
address = "h1"
port = 9080
cluster = "blue"

[[members]]
name = "m2"
`)
	dir, err := ParseStatic(data)
	require.NoError(t, err)
	got, err := dir.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []Member{
		{Name: "m1", Address: "h1", Port: 9080, ClusterName: "blue"},
		{Name: "m2"},
	}, got)

	_, err = ParseStatic([]byte("[[members]]\naddress = \"h\"\n"))
	assert.ErrorContains(t, err, "name is required")

	_, err = ParseStatic([]byte("[[members]]\nname = \"a\"\n[[members]]\nname = \"a\"\n"))
	assert.ErrorContains(t, err, "listed twice")
}

type brokenDirectory struct{}

func (brokenDirectory) List(context.Context, string) ([]Member, error) {
	return nil, Unavailable(errors.New("dial tcp: connection refused"))
}

func TestFind(t *testing.T) {
	dir := NewStaticDirectory(Member{Name: "m1", Address: "h1"})
	ctx := context.Background()

	m, err := Find(ctx, dir, "m1")
	require.NoError(t, err)
	assert.Equal(t, "h1", m.Address)

	_, err = Find(ctx, dir, "nope")
	assert.ErrorIs(t, err, ErrMemberNotFound)

	_, err = Find(ctx, brokenDirectory{}, "m1")
	assert.ErrorIs(t, err, ErrDirectoryUnavailable)
	assert.NotErrorIs(t, err, ErrMemberNotFound)
}

func TestUnavailableIsIdempotent(t *testing.T) {
	assert.Nil(t, Unavailable(nil))
	once := Unavailable(errors.New("boom"))
	assert.Same(t, once, Unavailable(once))
}

func names(ms []Member) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name
	}
	return out
}
