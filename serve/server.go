package serve

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// ports are drawn from [portBase, portBase+portSpan)
	portBase    = 8000
	portSpan    = 1000
	maxAttempts = 3

	audioPath          = "/audio.mp3"
	defaultIdleTimeout = 2 * time.Minute
	shutdownTimeout    = 3 * time.Second

	watchKey = "activity"
)

// ErrBindExhausted is returned when every port attempt was already taken.
var ErrBindExhausted = errors.New("no free port for audio server")

// Server exposes a single audio file over HTTP for the duration of one
// run. It serves in the background, shuts itself down after going idle,
// and Stop is safe to call any number of times, even after a failed
// Start.
type Server struct {
	// Host to bind; defaults to the LAN-facing local IP.
	Host string
	// Ports to attempt, at most 3 tried; defaults to random picks.
	Ports []int
	// IdleTimeout before self-shutdown; defaults to 2 minutes.
	IdleTimeout time.Duration

	http     *http.Server
	group    *errgroup.Group
	watchdog *ttlcache.Cache[string, time.Time]
	stopOnce sync.Once
}

func New() *Server {
	return &Server{}
}

// Start binds a port and begins serving audioFile at /audio.mp3. The
// returned URL is fully resolved, port included. Up to 3 ports are
// attempted before giving up with ErrBindExhausted.
func (s *Server) Start(audioFile string) (string, error) {
	if _, err := os.Stat(audioFile); err != nil {
		return "", fmt.Errorf("audio file not readable; %w", err)
	}

	host := s.Host
	if host == "" {
		host = localIP()
	}
	ports := s.Ports
	if len(ports) == 0 {
		ports = randomPorts(maxAttempts)
	}

	var listener net.Listener
	for i, port := range ports {
		if i >= maxAttempts {
			break
		}
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			logrus.WithField("port", port).Debugln("port unavailable, retrying")
			continue
		}
		listener = l
		break
	}
	if listener == nil {
		return "", ErrBindExhausted
	}

	mux := http.NewServeMux()
	mux.HandleFunc(audioPath, func(w http.ResponseWriter, r *http.Request) {
		s.touch()
		w.Header().Set("Content-Type", "audio/mpeg")
		// ServeFile handles HEAD and range probes for us
		http.ServeFile(w, r, audioFile)
	})

	s.http = &http.Server{Handler: mux}
	s.group = &errgroup.Group{}
	s.group.Go(func() error {
		err := s.http.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	s.startWatchdog()

	url := fmt.Sprintf("http://%s%s", listener.Addr().String(), audioPath)
	logrus.WithField("url", url).Debugln("audio server started")
	return url, nil
}

// Stop releases the port and stops serving. Idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.watchdog != nil {
			s.watchdog.Stop()
		}
		if s.http != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := s.http.Shutdown(ctx); err != nil {
				s.http.Close()
			}
		}
		if s.group != nil {
			if err := s.group.Wait(); err != nil {
				logrus.WithError(err).Warnln("audio server exited uncleanly")
			}
		}
		logrus.Debugln("audio server stopped")
	})
}

// startWatchdog shuts the server down on its own once no request has
// arrived for IdleTimeout, so a device that never fetches the file
// can't keep the port held open.
func (s *Server) startWatchdog() {
	idle := s.IdleTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}

	s.watchdog = ttlcache.New[string, time.Time](
		ttlcache.WithTTL[string, time.Time](idle),
	)
	s.watchdog.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, _ *ttlcache.Item[string, time.Time]) {
		if reason == ttlcache.EvictionReasonExpired {
			logrus.Debugln("audio server idle, shutting down")
			// not inline: Stop stops the watchdog whose loop we're on
			go s.Stop()
		}
	})
	go s.watchdog.Start()

	s.touch()
}

// touch pushes the idle deadline back.
func (s *Server) touch() {
	if s.watchdog != nil {
		s.watchdog.Set(watchKey, time.Now(), ttlcache.DefaultTTL)
	}
}

func randomPorts(n int) []int {
	ports := make([]int, n)
	for i := range ports {
		ports[i] = portBase + rand.Intn(portSpan)
	}
	return ports
}

// localIP finds the LAN-facing address by asking the kernel how it
// would route to a public host. Nothing is actually sent.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
