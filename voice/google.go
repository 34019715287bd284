package voice

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	htgotts "github.com/hegedustibor/htgo-tts"
	"github.com/sirupsen/logrus"
)

const DefaultLanguage = "en"

// Google synthesizes speech through the Google Translate TTS endpoint.
// Language codes are passed through as-is; an unsupported code surfaces
// as a service error rather than being rejected here.
type Google struct{}

func (api *Google) Synthesize(ctx context.Context, text string, lang string) (*Asset, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if lang == "" {
		lang = DefaultLanguage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "sonosay-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir; %w", err)
	}
	asset := &Asset{dir: dir}

	speech := htgotts.Speech{Folder: dir, Language: lang}
	path, err := speech.CreateSpeechFile(text, uuid.NewString())
	if err != nil {
		asset.Remove()
		return nil, fmt.Errorf("%w; %v", ErrUnreachable, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		asset.Remove()
		return nil, fmt.Errorf("%w; %v", ErrUnreachable, err)
	}
	// htgotts writes a tiny junk MP3 when the service balks at the line
	if info.Size() == 1685 {
		asset.Remove()
		return nil, fmt.Errorf("%w; line too long", ErrUnreachable)
	}

	asset.Path = path
	logrus.WithField("path", path).Debugln("speech generated")
	return asset, nil
}
