package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.Equal(t, 3, c.Len())

	track, err := c.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "Midnight Drive", track.Title)
	assert.Equal(t, 252.0, c.Duration(0))

	_, err = c.Get(3)
	assert.ErrorIs(t, err, ErrTrackNotFound)
	assert.Equal(t, 0.0, c.Duration(-1))
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrEmptyCatalog)

	_, err = New([]Track{{Id: 1, Title: "a", Duration: 0, Source: "a.mp3"}})
	assert.Error(t, err, "zero duration must be rejected")

	_, err = New([]Track{
		{Id: 1, Title: "a", Duration: 1, Source: "a.mp3"},
		{Id: 1, Title: "b", Duration: 1, Source: "b.mp3"},
	})
	assert.ErrorContains(t, err, "duplicate id")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tracks:
  - id: 7
    title: Song
    artist: Someone
    album: Record
    duration: 180.5
    source: https://example.com/song.mp3
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	track, err := c.Get(0)
	require.NoError(t, err)
	assert.Equal(t, 7, track.Id)
	assert.Equal(t, 180.5, track.Duration)
	assert.Empty(t, track.Artwork)

	tracks := c.Tracks()
	tracks[0].Title = "mutated"
	again, _ := c.Get(0)
	assert.Equal(t, "Song", again.Title)
}
