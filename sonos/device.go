package sonos

import (
	"context"
	"errors"
	"fmt"

	"github.com/huin/goupnp/dcps/av1"
	"github.com/huin/goupnp/soap"
)

// UPnP transport states reported by AVTransport.
const (
	StatePlaying       = "PLAYING"
	StatePaused        = "PAUSED_PLAYBACK"
	StateStopped       = "STOPPED"
	StateTransitioning = "TRANSITIONING"
)

var (
	// ErrUnreachable means the device never answered a control call.
	ErrUnreachable = errors.New("device unreachable")
	// ErrPlaybackRejected means the device answered and refused, most
	// likely an unsupported URI or codec.
	ErrPlaybackRejected = errors.New("device rejected playback")
	// ErrRestoreIncomplete means some of the previous state could not
	// be re-applied. Callers log it and move on.
	ErrRestoreIncomplete = errors.New("previous state only partially restored")
)

// Controller is the control surface this tool needs from a renderer.
// *Device implements it over UPnP; tests substitute fakes.
type Controller interface {
	Name() string
	Address() string
	TransportState(ctx context.Context) (string, error)
	Position(ctx context.Context) (uri string, relTime string, err error)
	SetURI(ctx context.Context, uri string) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, target string) error
	Volume(ctx context.Context) (int, error)
	SetVolume(ctx context.Context, volume int) error
}

// Device is a discovered renderer with its AVTransport and
// RenderingControl service clients.
type Device struct {
	name      string
	host      string
	transport *av1.AVTransport1
	rendering *av1.RenderingControl1
}

var _ Controller = (*Device)(nil)

func (d *Device) Name() string    { return d.name }
func (d *Device) Address() string { return d.host }

func (d *Device) TransportState(ctx context.Context) (string, error) {
	state, _, _, err := d.transport.GetTransportInfoCtx(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("failed to get transport info; %w", unreachable(err))
	}
	return state, nil
}

func (d *Device) Position(ctx context.Context) (string, string, error) {
	_, _, _, uri, relTime, _, _, _, err := d.transport.GetPositionInfoCtx(ctx, 0)
	if err != nil {
		return "", "", fmt.Errorf("failed to get position info; %w", unreachable(err))
	}
	return uri, relTime, nil
}

func (d *Device) SetURI(ctx context.Context, uri string) error {
	if err := d.transport.SetAVTransportURICtx(ctx, 0, uri, ""); err != nil {
		return fmt.Errorf("failed to set play target; %w", classify(err))
	}
	return nil
}

func (d *Device) Play(ctx context.Context) error {
	if err := d.transport.PlayCtx(ctx, 0, "1"); err != nil {
		return fmt.Errorf("failed to play; %w", classify(err))
	}
	return nil
}

func (d *Device) Pause(ctx context.Context) error {
	if err := d.transport.PauseCtx(ctx, 0); err != nil {
		return fmt.Errorf("failed to pause; %w", unreachable(err))
	}
	return nil
}

func (d *Device) Stop(ctx context.Context) error {
	if err := d.transport.StopCtx(ctx, 0); err != nil {
		return fmt.Errorf("failed to stop; %w", unreachable(err))
	}
	return nil
}

func (d *Device) Seek(ctx context.Context, target string) error {
	if err := d.transport.SeekCtx(ctx, 0, "REL_TIME", target); err != nil {
		return fmt.Errorf("failed to seek; %w", unreachable(err))
	}
	return nil
}

func (d *Device) Volume(ctx context.Context) (int, error) {
	v, err := d.rendering.GetVolumeCtx(ctx, 0, "Master")
	if err != nil {
		return 0, fmt.Errorf("failed to get volume; %w", unreachable(err))
	}
	return int(v), nil
}

func (d *Device) SetVolume(ctx context.Context, volume int) error {
	if err := d.rendering.SetVolumeCtx(ctx, 0, "Master", uint16(volume)); err != nil {
		return fmt.Errorf("failed to set volume; %w", unreachable(err))
	}
	return nil
}

// classify splits control failures: a SOAP fault means the device
// answered and said no, anything else means it never answered.
func classify(err error) error {
	var fault *soap.SOAPFaultError
	if errors.As(err, &fault) {
		return fmt.Errorf("%w; %v", ErrPlaybackRejected, err)
	}
	return unreachable(err)
}

func unreachable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w; %v", ErrUnreachable, err)
}
