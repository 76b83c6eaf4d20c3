package lookup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/lookup/index"
	"github.com/c360/lookupkit/lookup/matrix"
)

var geoColumns = []matrix.Column{
	{Name: "start", Kind: matrix.Uint32},
	{Name: "end", Kind: matrix.Uint32},
	{Name: "country", Kind: matrix.Bytes, Width: 2},
	{Name: "city", Kind: matrix.String},
}

var geoIndexes = []index.Spec{
	{Name: "country", Kind: index.KindBitmap, Column: "country"},
	{Name: "ip", Kind: index.KindTree, Start: "start", End: "end"},
	{Name: "ip-slice", Kind: index.KindSlice, Start: "start", End: "end"},
}

func newGeo(t *testing.T, compression Compression, src, cache *fakeProvider) *IndexLookup {
	t.Helper()
	il, err := NewIndex(Config{ID: "geo"}, geoColumns, geoIndexes, compression,
		WithLogger(testLogger()), WithProvider(src), WithLocalCache(cache))
	require.NoError(t, err)
	return il
}

func addCity(m *matrix.Matrix, name string, start, end uint32, country, city string) error {
	row, err := m.AddRow(name)
	if err != nil {
		return err
	}
	return m.SetRecord(row, map[string]any{"start": start, "end": end, "country": country, "city": city})
}

func fillGeo(t *testing.T, il *IndexLookup) {
	t.Helper()
	require.NoError(t, il.Mutate(func(m *matrix.Matrix) error {
		for _, r := range []struct {
			name       string
			start, end uint32
			country    string
			city       string
		}{
			{"prague", 100, 200, "CZ", "Prague"},
			{"brno", 200, 250, "CZ", "Brno"},
			{"berlin", 300, 400, "DE", "Berlin"},
		} {
			if err := addCity(m, r.name, r.start, r.end, r.country, r.city); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestIndexLookup_MutateKeepsIndexesCurrent(t *testing.T) {
	il := newGeo(t, CompressionNone, &fakeProvider{}, &fakeProvider{})
	fillGeo(t, il)
	assert.Equal(t, 3, il.Len())
	assert.Equal(t, []string{"country", "ip", "ip-slice"}, il.IndexNames())

	found, err := il.Lookup("country", "CZ")
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Equal(t, "Brno", found["brno"]["city"])

	found, err = il.Lookup("ip", 220)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Contains(t, found, "brno")

	found, err = il.Lookup("ip-slice", 150)
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Contains(t, found, "prague")

	require.NoError(t, il.Mutate(func(m *matrix.Matrix) error {
		row, _ := m.GetRow("brno")
		return m.CloseRow(row)
	}))
	found, err = il.Lookup("country", "CZ")
	require.NoError(t, err)
	assert.Len(t, found, 1)
	found, err = il.Lookup("ip", 220)
	require.NoError(t, err)
	assert.Empty(t, found)

	require.NoError(t, il.Rebuild(matrix.RebuildPartial))
	found, err = il.Lookup("ip", 350)
	require.NoError(t, err)
	assert.Contains(t, found, "berlin")

	_, err = il.Search("missing", 1)
	assert.ErrorIs(t, err, errors.ErrIndexNotFound)
}

func TestIndexLookup_SearchReturnsCopy(t *testing.T) {
	il := newGeo(t, CompressionNone, &fakeProvider{}, &fakeProvider{})
	fillGeo(t, il)

	rows, err := il.Search("country", "CZ")
	require.NoError(t, err)
	rows.Clear()

	again, err := il.Search("country", "CZ")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), again.GetCardinality())
}

func TestIndexLookup_OverlapIsFatal(t *testing.T) {
	il := newGeo(t, CompressionNone, &fakeProvider{}, &fakeProvider{})
	fillGeo(t, il)

	err := il.Mutate(func(m *matrix.Matrix) error {
		return addCity(m, "overlap", 150, 260, "CZ", "Nowhere")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrOverlappingIntervals)
	assert.True(t, errors.IsFatal(err))
}

func TestIndexLookup_FailedMutateRollsBack(t *testing.T) {
	il := newGeo(t, CompressionNone, &fakeProvider{}, &fakeProvider{})
	fillGeo(t, il)
	version := il.Version()

	err := il.Mutate(func(m *matrix.Matrix) error {
		row, ok := m.GetRow("prague")
		require.True(t, ok)
		if err := m.CloseRow(row); err != nil {
			return err
		}
		if err := m.Rebuild(matrix.RebuildPartial); err != nil {
			return err
		}
		return addCity(m, "overlap", 210, 260, "CZ", "Nowhere")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrOverlappingIntervals)
	assert.Equal(t, version, il.Version())
	assert.Equal(t, 3, il.Len())

	found, err := il.Lookup("ip", 350)
	require.NoError(t, err)
	require.Contains(t, found, "berlin")
	assert.Equal(t, "Berlin", found["berlin"]["city"])

	found, err = il.Lookup("ip", 150)
	require.NoError(t, err)
	assert.Contains(t, found, "prague")

	found, err = il.Lookup("ip-slice", 220)
	require.NoError(t, err)
	assert.Contains(t, found, "brno")
	assert.NotContains(t, found, "overlap")

	found, err = il.Lookup("country", "CZ")
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestIndexLookup_FailedFnRollsBack(t *testing.T) {
	il := newGeo(t, CompressionNone, &fakeProvider{}, &fakeProvider{})
	fillGeo(t, il)
	version := il.Version()

	err := il.Mutate(func(m *matrix.Matrix) error {
		if err := addCity(m, "vienna", 500, 600, "AT", "Vienna"); err != nil {
			return err
		}
		return errors.ErrInvalidData
	})
	require.ErrorIs(t, err, errors.ErrInvalidData)
	assert.Equal(t, version, il.Version())
	assert.Equal(t, 3, il.Len())

	found, err := il.Lookup("country", "AT")
	require.NoError(t, err)
	assert.Empty(t, found)

	require.NoError(t, il.Mutate(func(m *matrix.Matrix) error {
		return addCity(m, "vienna", 500, 600, "AT", "Vienna")
	}))
	found, err = il.Lookup("ip", 550)
	require.NoError(t, err)
	assert.Contains(t, found, "vienna")
}

func TestIndexLookup_Replication(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionZstd} {
		t.Run(string(compression), func(t *testing.T) {
			master := newGeo(t, compression, &fakeProvider{}, &fakeProvider{})
			fillGeo(t, master)

			payload, err := master.Serialize()
			require.NoError(t, err)
			if compression == CompressionZstd {
				assert.Equal(t, zstdMagic, payload[:4])
			}

			slave := newGeo(t, CompressionNone, &fakeProvider{data: payload}, &fakeProvider{})
			changed, err := slave.Load(context.Background())
			require.NoError(t, err)
			require.True(t, changed)

			refreshed, err := slave.RefreshIndexes()
			require.NoError(t, err)
			assert.False(t, refreshed, "shipped indexes are current")

			for _, query := range []struct {
				index string
				value any
			}{
				{"country", "CZ"}, {"country", "DE"}, {"ip", 150}, {"ip", 399}, {"ip", 400}, {"ip-slice", 249},
			} {
				want, err := master.Lookup(query.index, query.value)
				require.NoError(t, err)
				got, err := slave.Lookup(query.index, query.value)
				require.NoError(t, err)
				assert.Equal(t, want, got, "%s %v", query.index, query.value)
			}

			record, ok := slave.Get("berlin")
			require.True(t, ok)
			assert.Equal(t, []byte("DE"), record["country"])
		})
	}
}

func TestIndexLookup_RebuildsMissingIndexes(t *testing.T) {
	master, err := NewMatrix(Config{ID: "geo"}, geoColumns, CompressionNone,
		WithLogger(testLogger()), WithProvider(&fakeProvider{}), WithLocalCache(&fakeProvider{}))
	require.NoError(t, err)
	require.NoError(t, master.Mutate(func(m *matrix.Matrix) error {
		return addCity(m, "prague", 100, 200, "CZ", "Prague")
	}))
	payload, err := master.Serialize()
	require.NoError(t, err)

	slave := newGeo(t, CompressionNone, &fakeProvider{data: payload}, &fakeProvider{})
	_, err = slave.Load(context.Background())
	require.NoError(t, err)

	found, err := slave.Lookup("ip", 199)
	require.NoError(t, err)
	assert.Contains(t, found, "prague")
}

func TestMatrixLookup_SchemaMismatch(t *testing.T) {
	other, err := NewMatrix(Config{ID: "other"}, []matrix.Column{{Name: "x", Kind: matrix.Int8}}, CompressionNone,
		WithLogger(testLogger()), WithProvider(&fakeProvider{}), WithLocalCache(&fakeProvider{}))
	require.NoError(t, err)
	payload, err := other.Serialize()
	require.NoError(t, err)

	slave := newGeo(t, CompressionNone, &fakeProvider{data: payload}, &fakeProvider{})
	_, err = slave.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrInvalidSchema)
}

func TestMatrixLookup_SlaveTakesSchemaFromPayload(t *testing.T) {
	master, err := NewMatrix(Config{ID: "geo"}, geoColumns, CompressionZstd,
		WithLogger(testLogger()), WithProvider(&fakeProvider{}), WithLocalCache(&fakeProvider{}))
	require.NoError(t, err)
	require.NoError(t, master.Mutate(func(m *matrix.Matrix) error {
		return addCity(m, "prague", 100, 200, "CZ", "Prague")
	}))
	payload, err := master.Serialize()
	require.NoError(t, err)

	slave, err := NewMatrix(Config{ID: "geo"}, nil, CompressionNone,
		WithLogger(testLogger()), WithProvider(&fakeProvider{data: payload}), WithLocalCache(&fakeProvider{}))
	require.NoError(t, err)

	assert.Error(t, slave.Mutate(func(*matrix.Matrix) error { return nil }))
	_, err = slave.Serialize()
	assert.Error(t, err)

	_, err = slave.Load(context.Background())
	require.NoError(t, err)
	record, ok := slave.Get("prague")
	require.True(t, ok)
	assert.Equal(t, "Prague", record["city"])
	assert.Equal(t, uint32(100), record["start"])

	slave.View(func(m *matrix.Matrix) {
		assert.Equal(t, geoColumns, m.Columns())
	})
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)
	c, err = ParseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)
	_, err = ParseCompression("lz4")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}
