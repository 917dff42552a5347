package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundtrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	payload := []byte("0.0\t1.0\n0.1\t2.0\n")
	id, err := s.Put(payload, "trace.lvm")
	require.NoError(t, err)
	assert.True(t, s.Has(id))

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Same bytes, same id.
	id2, err := s.Put(payload, "trace.lvm")
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	assert.Equal(t, "trace.lvm", OriginalFilename(id))
}

func TestGetMissing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get("deadbeef_missing.csv")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, s.Has("deadbeef_missing.csv"))
}

func TestMetadataRoundtrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	id, err := s.Put([]byte("a,b\n1,2\n"), "data.csv")
	require.NoError(t, err)

	meta := Metadata{
		Filename:  "data.csv",
		HasHeader: true,
		Ext:       "csv",
		Columns:   []string{"a", "b"},
		Rows:      1,
	}
	require.NoError(t, s.PutMetadata(id, meta))

	got, err := s.GetMetadata(id)
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	_, err = s.GetMetadata("nope_data.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSanitizedIDs(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	id, err := s.Put([]byte("x"), "../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, s.Has(id))
	assert.NotContains(t, id, "/")
}
