package player

import "errors"

var (
	ErrEmptySync      = errors.New("sync carries no fields")
	ErrIncompleteSync = errors.New("sync with track must carry playing")
)

// FromSync converts the partial sync payload {track?, playing?, time?} into
// typed intents applied in order.
func FromSync(track *int, playing *bool, position *float64) ([]Intent, error) {
	switch {
	case track != nil:
		if playing == nil {
			return nil, ErrIncompleteSync
		}

		intents := []Intent{SetTrack{Index: *track, Playing: *playing}}
		if position != nil {
			intents = append(intents, Seek{Position: *position})
		}
		return intents, nil
	case playing != nil:
		return []Intent{SetPlaying{Playing: *playing, Position: position}}, nil
	case position != nil:
		return []Intent{Seek{Position: *position}}, nil
	default:
		return nil, ErrEmptySync
	}
}
