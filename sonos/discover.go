package sonos

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/huin/goupnp"
	"github.com/huin/goupnp/dcps/av1"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a discovery scan when no timeout is given.
const DefaultTimeout = 5 * time.Second

// Discover scans the local network for renderers exposing AVTransport
// and RenderingControl. Finding nothing is not an error: the result is
// simply empty. The returned slice is sorted by name so the selection
// prompt is stable.
func Discover(ctx context.Context, timeout time.Duration) ([]*Device, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maybes, err := goupnp.DiscoverDevicesCtx(ctx, av1.URN_AVTransport_1)
	if err != nil {
		return nil, fmt.Errorf("failed to search for devices; %w", err)
	}

	seen := make(map[string]bool)
	var devices []*Device
	for _, maybe := range maybes {
		if maybe.Err != nil {
			logrus.WithError(maybe.Err).Debugln("skipping unreadable device")
			continue
		}
		if seen[maybe.Location.Host] {
			continue
		}
		seen[maybe.Location.Host] = true

		dev, err := fromRoot(maybe.Root, maybe.Location)
		if err != nil {
			logrus.WithError(err).WithField("location", maybe.Location.String()).
				Debugln("skipping device without full control surface")
			continue
		}
		devices = append(devices, dev)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].name < devices[j].name
	})
	return devices, nil
}

func fromRoot(root *goupnp.RootDevice, loc *url.URL) (*Device, error) {
	transports, err := av1.NewAVTransport1ClientsFromRootDevice(root, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to bind AVTransport; %w", err)
	}
	if len(transports) == 0 {
		return nil, errors.New("no AVTransport service")
	}

	renderers, err := av1.NewRenderingControl1ClientsFromRootDevice(root, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to bind RenderingControl; %w", err)
	}
	if len(renderers) == 0 {
		return nil, errors.New("no RenderingControl service")
	}

	return &Device{
		name:      root.Device.FriendlyName,
		host:      loc.Hostname(),
		transport: transports[0],
		rendering: renderers[0],
	}, nil
}
