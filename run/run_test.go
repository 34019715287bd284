package run

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonosay/sonos"
	"sonosay/voice"
)

// speaker is a scripted sonos.Controller. Once Play is called it
// reports PLAYING for one poll, then STOPPED, so PlayAndWait finishes
// quickly.
type speaker struct {
	mu    sync.Mutex
	name  string
	state string
	uri   string
	pos   string
	vol   int

	playFails bool
	polls     int
	calls     []string
}

func (s *speaker) record(c string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *speaker) Name() string    { return s.name }
func (s *speaker) Address() string { return "192.0.2.20" }

func (s *speaker) TransportState(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == sonos.StatePlaying {
		s.polls++
		if s.polls > 1 {
			s.state = sonos.StateStopped
		}
	}
	return s.state, nil
}

func (s *speaker) Position(ctx context.Context) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri, s.pos, nil
}

func (s *speaker) SetURI(ctx context.Context, uri string) error {
	s.record("set-uri " + uri)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uri = uri
	return nil
}

func (s *speaker) Play(ctx context.Context) error {
	s.record("play")
	if s.playFails {
		return fmt.Errorf("gone; %w", sonos.ErrUnreachable)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = sonos.StatePlaying
	s.polls = 0
	return nil
}

func (s *speaker) Pause(ctx context.Context) error {
	s.record("pause")
	return nil
}

func (s *speaker) Stop(ctx context.Context) error {
	s.record("stop")
	return nil
}

func (s *speaker) Seek(ctx context.Context, target string) error {
	s.record("seek " + target)
	return nil
}

func (s *speaker) Volume(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vol, nil
}

func (s *speaker) SetVolume(ctx context.Context, volume int) error {
	s.record(fmt.Sprintf("set-volume %d", volume))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vol = volume
	return nil
}

type fakeTTS struct {
	t      *testing.T
	called bool
	dir    string
}

var _ voice.TTS = (*fakeTTS)(nil)

func (f *fakeTTS) Synthesize(ctx context.Context, text, lang string) (*voice.Asset, error) {
	f.called = true
	f.dir = f.t.TempDir()
	file := filepath.Join(f.dir, "audio.mp3")
	require.NoError(f.t, os.WriteFile(file, []byte("audio"), 0644))
	return voice.NewAsset(f.dir, file), nil
}

type fakeServer struct {
	started bool
	stops   int
	fail    error
}

func (f *fakeServer) Start(audioFile string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.started = true
	return "http://192.0.2.1:8123/audio.mp3", nil
}

func (f *fakeServer) Stop() { f.stops++ }

func discoverSome(devices ...sonos.Controller) Discovery {
	return func(ctx context.Context, timeout time.Duration) ([]sonos.Controller, error) {
		return devices, nil
	}
}

func baseOptions() Options {
	return Options{
		Message: "hello world",
		Volume:  -1,
		Timeout: time.Second,
		Ceiling: 5 * time.Second,
		Output:  &bytes.Buffer{},
		Input:   strings.NewReader(""),
	}
}

func TestRunEmptyMessage(t *testing.T) {
	discovered := false
	deps := Deps{
		Discover: func(ctx context.Context, timeout time.Duration) ([]sonos.Controller, error) {
			discovered = true
			return nil, nil
		},
	}

	opts := baseOptions()
	opts.Message = "   "

	err := Run(context.Background(), opts, deps)
	assert.ErrorIs(t, err, voice.ErrEmptyMessage)
	assert.False(t, discovered, "no network calls on validation failure")
}

func TestRunInvalidVolume(t *testing.T) {
	for _, vol := range []int{-2, 101, 500} {
		opts := baseOptions()
		opts.Volume = vol

		err := Run(context.Background(), opts, Deps{Discover: discoverSome()})
		assert.ErrorIs(t, err, ErrInvalidVolume)
	}
}

func TestRunNoDevices(t *testing.T) {
	tts := &fakeTTS{t: t}
	deps := Deps{Discover: discoverSome(), TTS: tts}

	err := Run(context.Background(), baseOptions(), deps)
	assert.ErrorIs(t, err, ErrNoDevices)
	assert.False(t, tts.called)
}

func TestRunListOnly(t *testing.T) {
	out := &bytes.Buffer{}
	tts := &fakeTTS{t: t}
	deps := Deps{
		Discover: discoverSome(&speaker{name: "Kitchen"}, &speaker{name: "Bedroom"}),
		TTS:      tts,
	}

	opts := baseOptions()
	opts.Message = ""
	opts.ListOnly = true
	opts.Output = out

	err := Run(context.Background(), opts, deps)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "1. Kitchen")
	assert.Contains(t, out.String(), "2. Bedroom")
	assert.False(t, tts.called)
}

func TestRunHappyPath(t *testing.T) {
	dev := &speaker{
		name:  "Kitchen",
		state: sonos.StatePlaying,
		uri:   "x-rincon:prev",
		pos:   "0:02:10",
		vol:   20,
	}
	// one device: no prompt needed
	tts := &fakeTTS{t: t}
	srv := &fakeServer{}
	deps := Deps{Discover: discoverSome(dev), TTS: tts, Server: srv}

	opts := baseOptions()
	opts.Volume = 45

	err := Run(context.Background(), opts, deps)
	require.NoError(t, err)

	// transient resources are gone
	_, statErr := os.Stat(tts.dir)
	assert.True(t, os.IsNotExist(statErr), "temp audio removed")
	assert.Equal(t, 1, srv.stops, "server stopped")

	// the device is back where it was
	assert.Equal(t, "x-rincon:prev", dev.uri)
	assert.Equal(t, 20, dev.vol)
	assert.Contains(t, dev.calls, "set-uri http://192.0.2.1:8123/audio.mp3")
	assert.Contains(t, dev.calls, "set-volume 45")
	assert.Contains(t, dev.calls, "set-volume 20")
	assert.Contains(t, dev.calls, "seek 0:02:10")
}

func TestRunRestoresAfterPlaybackFailure(t *testing.T) {
	dev := &speaker{
		name:      "Kitchen",
		state:     sonos.StatePlaying,
		uri:       "x-rincon:prev",
		pos:       "0:00:30",
		vol:       15,
		playFails: true,
	}
	tts := &fakeTTS{t: t}
	srv := &fakeServer{}
	deps := Deps{Discover: discoverSome(dev), TTS: tts, Server: srv}

	err := Run(context.Background(), baseOptions(), deps)
	assert.ErrorIs(t, err, sonos.ErrUnreachable)

	// failure still routed through restore and cleanup
	assert.Equal(t, "x-rincon:prev", dev.uri)
	assert.Equal(t, 1, srv.stops)
	_, statErr := os.Stat(tts.dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunServerBindFailure(t *testing.T) {
	dev := &speaker{name: "Kitchen", state: sonos.StateStopped}
	tts := &fakeTTS{t: t}
	bindErr := errors.New("no free port for audio server")
	srv := &fakeServer{fail: bindErr}
	deps := Deps{Discover: discoverSome(dev), TTS: tts, Server: srv}

	err := Run(context.Background(), baseOptions(), deps)
	assert.ErrorIs(t, err, bindErr)

	// the temp file must not leak even though the server never ran
	_, statErr := os.Stat(tts.dir)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, dev.calls, "no device mutation before the server is up")
}

func TestRunDeviceByName(t *testing.T) {
	kitchen := &speaker{name: "Kitchen", state: sonos.StateStopped}
	bedroom := &speaker{name: "Bedroom", state: sonos.StateStopped}
	deps := Deps{
		Discover: discoverSome(kitchen, bedroom),
		TTS:      &fakeTTS{t: t},
		Server:   &fakeServer{},
	}

	opts := baseOptions()
	opts.Device = "bedroom" // case-insensitive

	err := Run(context.Background(), opts, deps)
	require.NoError(t, err)
	assert.NotEmpty(t, bedroom.calls)
	assert.Empty(t, kitchen.calls)
}

func TestRunDeviceNotFound(t *testing.T) {
	deps := Deps{Discover: discoverSome(&speaker{name: "Kitchen"})}

	opts := baseOptions()
	opts.Device = "Garage"

	err := Run(context.Background(), opts, deps)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestPromptSelection(t *testing.T) {
	kitchen := &speaker{name: "Kitchen", state: sonos.StateStopped}
	bedroom := &speaker{name: "Bedroom", state: sonos.StateStopped}
	deps := Deps{
		Discover: discoverSome(kitchen, bedroom),
		TTS:      &fakeTTS{t: t},
		Server:   &fakeServer{},
	}

	// junk, out of range, then a valid pick
	opts := baseOptions()
	opts.Input = strings.NewReader("abc\n9\n2\n")
	out := &bytes.Buffer{}
	opts.Output = out

	err := Run(context.Background(), opts, deps)
	require.NoError(t, err)
	assert.NotEmpty(t, bedroom.calls)
	assert.Contains(t, out.String(), "Enter a number between 1 and 2")
}

func TestPromptQuit(t *testing.T) {
	deps := Deps{
		Discover: discoverSome(&speaker{name: "A"}, &speaker{name: "B"}),
	}

	opts := baseOptions()
	opts.Input = strings.NewReader("q\n")

	err := Run(context.Background(), opts, deps)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestPromptEOF(t *testing.T) {
	deps := Deps{
		Discover: discoverSome(&speaker{name: "A"}, &speaker{name: "B"}),
	}

	err := Run(context.Background(), baseOptions(), deps)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestPromptInterrupted(t *testing.T) {
	deps := Deps{
		Discover: discoverSome(&speaker{name: "A"}, &speaker{name: "B"}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	opts := baseOptions()
	opts.Input = blockingReader{}

	err := Run(ctx, opts, deps)
	assert.ErrorIs(t, err, ErrCancelled)
}

// blockingReader never returns, like a terminal nobody types into.
type blockingReader struct{}

func (blockingReader) Read(p []byte) (int, error) {
	select {}
}
