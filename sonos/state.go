package sonos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// each restore sub-call gets its own deadline so one hung device call
// can't hang the whole shutdown
const restoreCallTimeout = 5 * time.Second

// State is a best-effort snapshot of what a device was doing before we
// interrupted it. Fields captured successfully have their flag set;
// restore skips the rest.
type State struct {
	URI       string
	Position  string
	Transport string
	Volume    int

	HasTrack     bool
	HasTransport bool
	HasVolume    bool
}

// CaptureState queries the device field by field. A failed query only
// loses that field - a partial snapshot still allows a partial restore.
func CaptureState(ctx context.Context, dev Controller) State {
	var st State

	if tr, err := dev.TransportState(ctx); err == nil {
		st.Transport = tr
		st.HasTransport = true
	} else {
		logrus.WithError(err).Warnln("could not capture transport state")
	}

	if uri, pos, err := dev.Position(ctx); err == nil {
		st.URI = uri
		st.Position = pos
		st.HasTrack = true
	} else {
		logrus.WithError(err).Warnln("could not capture track position")
	}

	if v, err := dev.Volume(ctx); err == nil {
		st.Volume = v
		st.HasVolume = true
	} else {
		logrus.WithError(err).Warnln("could not capture volume")
	}

	return st
}

// RestoreState re-applies a snapshot: volume first, then the previous
// track, position and play/pause state. Unknown fields are skipped.
// Individual failures are collected into ErrRestoreIncomplete rather
// than aborting, so every remaining step still gets attempted.
func RestoreState(ctx context.Context, dev Controller, st State) error {
	var failed []string

	call := func(step string, fn func(context.Context) error) {
		cctx, cancel := context.WithTimeout(ctx, restoreCallTimeout)
		defer cancel()
		if err := fn(cctx); err != nil {
			logrus.WithError(err).WithField("step", step).Warnln("restore step failed")
			failed = append(failed, step)
		}
	}

	if st.HasVolume {
		call("volume", func(c context.Context) error { return dev.SetVolume(c, st.Volume) })
	}

	if st.HasTrack && st.URI != "" && st.wasActive() {
		call("uri", func(c context.Context) error { return dev.SetURI(c, st.URI) })
		if validPosition(st.Position) {
			call("seek", func(c context.Context) error { return dev.Seek(c, st.Position) })
		}
		call("play", dev.Play)
		if st.Transport == StatePaused {
			call("pause", dev.Pause)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", ErrRestoreIncomplete, strings.Join(failed, ", "))
	}
	return nil
}

// wasActive reports whether the device was actually in the middle of
// something worth resuming.
func (st State) wasActive() bool {
	return st.HasTransport && (st.Transport == StatePlaying || st.Transport == StatePaused)
}

func validPosition(pos string) bool {
	return pos != "" && pos != "0:00:00" && pos != "NOT_IMPLEMENTED"
}
