package rtsp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	viewerAdmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "viewer_admissions",
		Namespace: "rtsp_relay",
		Help:      "number of PLAY requests admitted",
	}, []string{"camera", "kind"})
	viewerEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "viewer_evictions",
		Namespace: "rtsp_relay",
		Help:      "number of web viewers closed by the web viewer limit",
	}, []string{"camera"})
	viewersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "viewers",
		Namespace: "rtsp_relay",
		Help:      "number of registered viewer sessions",
	}, []string{"camera"})
)

const (
	sessionIDLength = 9
	sessionAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	sessionTimeout  = 60
)

// EventLog receives admission and departure events.
type EventLog interface {
	Add(format string, args ...interface{})
}

type Options struct {
	Registry *Registry
	// Known reports whether a camera id is configured at all.
	Known func(id string) bool
	// Name is the SDP session name.
	Name string
	// Address and Port are advertised to viewers in SDP and RTP-Info.
	Address    string
	Port       int
	WebLimit   int
	Classifier ViewerClassifier
	Events     EventLog
}

// Server is the viewer facing RTSP endpoint.
type Server struct {
	opts Options
	now  func() time.Time
}

func NewServer(opts Options) *Server {
	if opts.Known == nil {
		opts.Known = func(id string) bool {
			_, ok := opts.Registry.Lookup(id)
			return ok
		}
	}
	if opts.Classifier == nil {
		opts.Classifier = Classifier{}
	}
	return &Server{opts: opts, now: time.Now}
}

func (s *Server) Start(ctx context.Context, addr string) error {
	conf := net.ListenConfig{}
	listener, err := conf.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on address %s: %w", addr, err)
	}
	log.Infof("listening for viewers on %s", listener.Addr())
	return s.Serve(ctx, listener)
}

// Serve accepts viewers until ctx is cancelled, serving each concurrently.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	for {
		nc, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to accept viewer: %w", err)
		}
		go s.handle(ctx, nc)
	}
}

func (s *Server) handle(ctx context.Context, nc net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		nc.Close()
	}()

	sess := newSession(s, nc)
	sess.log = log.WithFields(log.Fields{
		"conn":   uuid.NewString(),
		"remote": nc.RemoteAddr().String(),
	})
	sess.log.Debug("viewer connected")

	err := sess.serve()
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		sess.log.Debug("viewer disconnected")
	default:
		sess.log.WithError(err).Warn("viewer connection aborted")
	}
	nc.Close()
	sess.cleanup()
}

func (s *Server) events(format string, args ...interface{}) {
	if s.opts.Events != nil {
		s.opts.Events.Add(format, args...)
	}
}

// newSessionID draws ids until one is not live on stream.
func (s *Server) newSessionID(stream *Stream) string {
	for {
		id := NewSessionID()
		if !stream.Has(id) {
			return id
		}
	}
}

// NewSessionID returns 9 uniformly drawn lowercase alphanumeric characters.
func NewSessionID() string {
	const limit = 256 - 256%len(sessionAlphabet)

	id := make([]byte, 0, sessionIDLength)
	buf := make([]byte, sessionIDLength*2)
	for len(id) < sessionIDLength {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("crypto/rand failed: %v", err))
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			id = append(id, sessionAlphabet[int(b)%len(sessionAlphabet)])
			if len(id) == sessionIDLength {
				break
			}
		}
	}
	return string(id)
}
