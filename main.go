package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"sonosay/config"
	"sonosay/run"
	"sonosay/serve"
	"sonosay/sonos"
	"sonosay/voice"
)

// exit codes, one per failure class
const (
	exitOK        = 0
	exitErr       = 1
	exitNoDevices = 2
	exitCancelled = 3
	exitSynthesis = 4
	exitServer    = 5
	exitDevice    = 6
)

func newInterruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-c:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func main() {
	os.Exit(realMain())
}

func realMain() int {
	var (
		volume  int
		lang    string
		timeout int
		device  string
		list    bool
		verbose bool
	)
	flag.IntVarP(&volume, "volume", "v", -1, "volume level 0-100 (default: keep current)")
	flag.StringVarP(&lang, "lang", "l", "", "language code, e.g. en, en-gb, es, fr (default: en)")
	flag.IntVarP(&timeout, "timeout", "t", 0, "device discovery timeout in seconds (default: 5)")
	flag.StringVarP(&device, "device", "d", "", "play on the named device instead of prompting")
	flag.BoolVar(&list, "list-devices", false, "list available devices and exit")
	flag.BoolVar(&verbose, "verbose", false, "enable debug logging")
	flag.Usage = usage
	flag.Parse()

	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		logrus.WithError(err).Errorln("failed to load config")
		return exitErr
	}

	message := strings.Join(flag.Args(), " ")
	if message == "" && !list {
		usage()
		return exitErr
	}

	ctx, cancel := newInterruptContext(context.Background())
	defer cancel()

	opts := run.Options{
		Message:  message,
		Lang:     lang,
		Volume:   volume,
		Timeout:  time.Duration(timeout) * time.Second,
		Device:   device,
		ListOnly: list,
	}
	applyConfig(&opts, cfg)
	deps := run.Deps{
		Discover: discover,
		TTS:      &voice.Google{},
		Server:   serve.New(),
	}

	if err := run.Run(ctx, opts, deps); err != nil {
		logrus.WithError(err).Errorln("run failed")
		return exitCode(err)
	}
	return exitOK
}

// applyConfig fills unset options from the config file, then from the
// built-in defaults. Flags beat the file, the file beats built-ins.
func applyConfig(opts *run.Options, cfg *config.Config) {
	if opts.Volume == -1 && cfg.Volume != nil {
		opts.Volume = *cfg.Volume
	}
	if opts.Lang == "" {
		opts.Lang = cfg.Lang
	}
	if opts.Lang == "" {
		opts.Lang = voice.DefaultLanguage
	}
	if opts.Timeout <= 0 && cfg.Timeout > 0 {
		opts.Timeout = time.Duration(cfg.Timeout) * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = sonos.DefaultTimeout
	}
	if opts.Device == "" {
		opts.Device = cfg.Device
	}
}

func discover(ctx context.Context, timeout time.Duration) ([]sonos.Controller, error) {
	devices, err := sonos.Discover(ctx, timeout)
	if err != nil {
		return nil, err
	}
	out := make([]sonos.Controller, len(devices))
	for i, d := range devices {
		out[i] = d
	}
	return out, nil
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, run.ErrNoDevices), errors.Is(err, run.ErrDeviceNotFound):
		return exitNoDevices
	case errors.Is(err, run.ErrCancelled), errors.Is(err, context.Canceled):
		return exitCancelled
	case errors.Is(err, voice.ErrUnreachable):
		return exitSynthesis
	case errors.Is(err, serve.ErrBindExhausted):
		return exitServer
	case errors.Is(err, sonos.ErrUnreachable), errors.Is(err, sonos.ErrPlaybackRejected):
		return exitDevice
	default:
		return exitErr
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Play a spoken message on a Sonos speaker, then put it back the way it was.

Usage:
  %[1]s <message> [flags]

Flags:
%[2]s
Examples:
  %[1]s "Hello world"
  %[1]s "Welcome home" --volume 50
  %[1]s "Bonjour" --lang fr --device Bedroom
  %[1]s --list-devices
`, os.Args[0], flag.CommandLine.FlagUsages())
}
