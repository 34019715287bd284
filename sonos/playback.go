package sonos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// DefaultCeiling caps how long we wait for the device to report it
	// finished. Long messages at Google TTS speed can run well past a
	// minute.
	DefaultCeiling = 90 * time.Second

	pollInterval = 500 * time.Millisecond
	// if playback was never observed to start within this window,
	// assume a zero-length clip and move on
	startGrace = 5 * time.Second
)

// PlayAndWait points the device at url, starts playback and blocks
// until the device reports it stopped or the ceiling elapses. A volume
// of -1 leaves the current volume alone; range checking happens before
// any device call, upstream.
func PlayAndWait(ctx context.Context, dev Controller, url string, volume int, ceiling time.Duration) error {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}

	if volume >= 0 {
		logrus.WithField("volume", volume).Debugln("setting volume")
		if err := dev.SetVolume(ctx, volume); err != nil {
			return err
		}
	}

	if err := dev.SetURI(ctx, url); err != nil {
		return err
	}
	if err := dev.Play(ctx); err != nil {
		return err
	}

	return waitForStop(ctx, dev, ceiling)
}

// waitForStop polls the transport state until the device stops after
// having been seen playing. Hitting the ceiling is not an error: the
// caller restores the previous state either way.
func waitForStop(ctx context.Context, dev Controller, ceiling time.Duration) error {
	wctx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(pollInterval), 1)
	started := false
	begin := time.Now()

	for {
		if err := limiter.Wait(wctx); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return fmt.Errorf("interrupted while waiting for playback; %w", ctx.Err())
			}
			logrus.Debugln("gave up waiting for playback to stop")
			return nil
		}

		state, err := dev.TransportState(wctx)
		if err != nil {
			// device mid-transition, keep polling
			continue
		}

		switch state {
		case StatePlaying, StateTransitioning:
			started = true
		case StateStopped:
			if started || time.Since(begin) > startGrace {
				return nil
			}
		}
	}
}
