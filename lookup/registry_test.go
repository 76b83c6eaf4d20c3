package lookup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lookupkit/errors"
)

type staticLookup struct{ id string }

func (s staticLookup) ID() string                 { return s.id }
func (s staticLookup) Version() uint64            { return 0 }
func (s staticLookup) Serialize() ([]byte, error) { return nil, errors.ErrNotSupported }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	d, err := NewDictionary(Config{ID: "geo", CacheDir: t.TempDir()}, WithLogger(testLogger()))
	require.NoError(t, err)

	require.NoError(t, r.Register(d))
	require.NoError(t, r.Register(staticLookup{id: "asn"}))
	assert.ErrorIs(t, r.Register(staticLookup{id: "geo"}), errors.ErrInvalidConfig)

	assert.Equal(t, []string{"asn", "geo"}, r.IDs())
	got, ok := r.Get("geo")
	require.True(t, ok)
	assert.Same(t, d, got)

	loaders := r.Loaders()
	require.Len(t, loaders, 1)
	assert.Equal(t, "geo", loaders[0].ID())

	assert.True(t, r.Unregister("asn"))
	assert.False(t, r.Unregister("asn"))
	_, ok = r.Get("asn")
	assert.False(t, ok)
}
