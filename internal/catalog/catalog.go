package catalog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/syncbeats/server/pkg/validator"
)

var (
	ErrEmptyCatalog  = errors.New("catalog has no tracks")
	ErrTrackNotFound = errors.New("track not found")
)

type Track struct {
	Id       int     `json:"id" yaml:"id" validate:"required"`
	Title    string  `json:"title" yaml:"title" validate:"required"`
	Artist   string  `json:"artist" yaml:"artist"`
	Album    string  `json:"album" yaml:"album"`
	Duration float64 `json:"duration" yaml:"duration" validate:"gt=0"`
	Source   string  `json:"source" yaml:"source" validate:"required"`
	Artwork  string  `json:"artwork,omitempty" yaml:"artwork"`
}

// Catalog is the immutable, ordered list of playable tracks. Rooms refer to
// tracks by index.
type Catalog struct {
	tracks []Track
}

func New(tracks []Track) (*Catalog, error) {
	if len(tracks) == 0 {
		return nil, ErrEmptyCatalog
	}

	v := validator.NewValidator()
	seen := make(map[int]struct{}, len(tracks))
	for i, t := range tracks {
		if errs, ok := v.Validate(t); !ok {
			return nil, fmt.Errorf("track %d: %w", i, validator.Error(errs))
		}
		if _, dup := seen[t.Id]; dup {
			return nil, fmt.Errorf("track %d: duplicate id %d", i, t.Id)
		}
		seen[t.Id] = struct{}{}
	}

	c := &Catalog{tracks: make([]Track, len(tracks))}
	copy(c.tracks, tracks)

	return c, nil
}

func Default() *Catalog {
	return &Catalog{tracks: []Track{
		{
			Id:       1,
			Title:    "Midnight Drive",
			Artist:   "Aurora Synthwave",
			Album:    "Neon Dreams",
			Duration: 252,
			Source:   "audio/SoundHelix-Song-1.mp3",
			Artwork:  "resources/album-art-1.jpg",
		},
		{
			Id:       2,
			Title:    "Electric Dreams",
			Artist:   "Neon Pulse",
			Album:    "Future Sounds",
			Duration: 225,
			Source:   "audio/SoundHelix-Song-2.mp3",
			Artwork:  "resources/album-art-2.jpg",
		},
		{
			Id:       3,
			Title:    "Night Drive",
			Artist:   "Synthwave Collective",
			Album:    "Urban Nights",
			Duration: 252,
			Source:   "audio/SoundHelix-Song-3.mp3",
			Artwork:  "resources/concert-stage.jpg",
		},
	}}
}

type file struct {
	Tracks []Track `yaml:"tracks"`
}

// Load reads a YAML catalog of the form `tracks: [...]`.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	return New(f.Tracks)
}

func (c *Catalog) Len() int {
	return len(c.tracks)
}

func (c *Catalog) Get(index int) (Track, error) {
	if index < 0 || index >= len(c.tracks) {
		return Track{}, fmt.Errorf("%w: index %d", ErrTrackNotFound, index)
	}

	return c.tracks[index], nil
}

// Duration returns the duration of the track at index, or 0 if there is none.
func (c *Catalog) Duration(index int) float64 {
	if index < 0 || index >= len(c.tracks) {
		return 0
	}

	return c.tracks[index].Duration
}

func (c *Catalog) Tracks() []Track {
	tracks := make([]Track, len(c.tracks))
	copy(tracks, c.tracks)

	return tracks
}
