// Package run sequences one announcement end to end: discover a
// device, synthesize the message, serve it over HTTP, play it and put
// the device back the way it was. Cleanup of the temp audio and the
// server is pinned with defers at acquisition, so no failure later in
// the sequence can skip it.
package run

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"sonosay/sonos"
	"sonosay/voice"
)

var (
	ErrNoDevices      = errors.New("no devices found")
	ErrDeviceNotFound = errors.New("device not found")
	ErrCancelled      = errors.New("cancelled")
	ErrInvalidVolume  = errors.New("volume must be between 0 and 100")
)

// restoration must finish even when the run ctx is already cancelled
const restoreTimeout = 30 * time.Second

// AudioServer is the ephemeral HTTP boundary. Stop must be idempotent.
type AudioServer interface {
	Start(audioFile string) (string, error)
	Stop()
}

// Discovery scans the network for controllable devices.
type Discovery func(ctx context.Context, timeout time.Duration) ([]sonos.Controller, error)

type Options struct {
	Message string
	Lang    string
	// Volume 0-100, or -1 to keep the device's current volume.
	Volume  int
	Timeout time.Duration
	// Device picks a speaker by friendly name and skips the prompt.
	Device string
	// ListOnly prints discovered devices and exits.
	ListOnly bool
	// Ceiling caps the wait for playback completion.
	Ceiling time.Duration

	// Input feeds the selection prompt; defaults to stdin.
	Input io.Reader
	// Output receives user-facing text; defaults to stdout.
	Output io.Writer
}

type Deps struct {
	Discover Discovery
	TTS      voice.TTS
	Server   AudioServer
}

// Run executes one announcement. Validation failures surface before
// any network traffic; restoration failures are logged and swallowed.
func Run(ctx context.Context, opts Options, deps Deps) error {
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	if opts.Volume != -1 && (opts.Volume < 0 || opts.Volume > 100) {
		return ErrInvalidVolume
	}
	if !opts.ListOnly && strings.TrimSpace(opts.Message) == "" {
		return voice.ErrEmptyMessage
	}

	fmt.Fprintf(opts.Output, "Discovering devices (timeout: %s)...\n", opts.Timeout)
	devices, err := deps.Discover(ctx, opts.Timeout)
	if err != nil {
		return fmt.Errorf("failed to discover devices; %w", err)
	}
	if len(devices) == 0 {
		return ErrNoDevices
	}

	if opts.ListOnly {
		printDevices(opts.Output, devices)
		return nil
	}

	dev, err := pick(ctx, opts, devices)
	if err != nil {
		return err
	}

	fmt.Fprintf(opts.Output, "Generating speech for: %q\n", opts.Message)
	asset, err := deps.TTS.Synthesize(ctx, opts.Message, opts.Lang)
	if err != nil {
		return err
	}
	defer asset.Remove()

	url, err := deps.Server.Start(asset.Path)
	if err != nil {
		return err
	}
	defer deps.Server.Stop()
	logrus.WithField("url", url).Debugln("audio server up")

	// snapshot before touching the device; from here on the previous
	// state is restored no matter how the run ends
	snap := sonos.CaptureState(ctx, dev)
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
		defer cancel()
		if err := sonos.RestoreState(rctx, dev, snap); err != nil {
			logrus.WithError(err).Warnln("could not fully restore previous playback")
		}
	}()

	fmt.Fprintf(opts.Output, "Playing on %s...\n", dev.Name())
	if err := sonos.PlayAndWait(ctx, dev, url, opts.Volume, opts.Ceiling); err != nil {
		return fmt.Errorf("failed to play announcement; %w", err)
	}

	fmt.Fprintln(opts.Output, "Done.")
	return nil
}

func pick(ctx context.Context, opts Options, devices []sonos.Controller) (sonos.Controller, error) {
	if opts.Device != "" {
		for _, d := range devices {
			if strings.EqualFold(d.Name(), opts.Device) {
				fmt.Fprintf(opts.Output, "Selected: %s (%s)\n", d.Name(), d.Address())
				return d, nil
			}
		}
		printDevices(opts.Output, devices)
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, opts.Device)
	}

	if len(devices) == 1 {
		fmt.Fprintf(opts.Output, "Using %s (%s)\n", devices[0].Name(), devices[0].Address())
		return devices[0], nil
	}

	return prompt(ctx, opts, devices)
}

// prompt blocks on one line of input per attempt. The read happens on
// its own goroutine so an interrupt during the prompt still unblocks
// us and routes through cleanup.
func prompt(ctx context.Context, opts Options, devices []sonos.Controller) (sonos.Controller, error) {
	printDevices(opts.Output, devices)

	lines := make(chan string)
	done := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(opts.Input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		close(done)
	}()

	for {
		fmt.Fprintf(opts.Output, "Select device number (or 'q' to quit): ")

		select {
		case <-ctx.Done():
			return nil, ErrCancelled
		case <-done:
			return nil, ErrCancelled
		case line := <-lines:
			choice := strings.TrimSpace(line)
			if strings.EqualFold(choice, "q") {
				return nil, ErrCancelled
			}
			idx, err := strconv.Atoi(choice)
			if err != nil || idx < 1 || idx > len(devices) {
				fmt.Fprintf(opts.Output, "Enter a number between 1 and %d\n", len(devices))
				continue
			}
			fmt.Fprintf(opts.Output, "Selected: %s\n", devices[idx-1].Name())
			return devices[idx-1], nil
		}
	}
}

func printDevices(w io.Writer, devices []sonos.Controller) {
	fmt.Fprintln(w, "Available devices:")
	for i, d := range devices {
		fmt.Fprintf(w, "  %d. %s (%s)\n", i+1, d.Name(), d.Address())
	}
}
