package voice

import (
	"context"
	"errors"
)

var (
	// ErrEmptyMessage is raised before any network call is made.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrUnreachable covers any failure of the speech service itself.
	ErrUnreachable = errors.New("speech service unreachable")
)

type TTS interface {
	// Synthesize converts text to speech in the given language and
	// saves the generated audio to a temporary MP3 file owned by the
	// returned Asset.
	Synthesize(ctx context.Context, text string, lang string) (*Asset, error)
}
