package camera

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bilbercode/rtsp-relay/internal/config"
	"github.com/bilbercode/rtsp-relay/internal/rtsp"
	"github.com/bilbercode/rtsp-relay/internal/rtsp/transport"
)

const (
	defaultSessionTimeout = 60 * time.Second
	teardownTimeout       = 2 * time.Second
)

var (
	ErrConnect           = errors.New("failed to connect to camera")
	ErrUnsupportedScheme = errors.New("unsupported camera url scheme")
)

// Session is the control connection to one camera and the relays of its
// tracks.
type Session struct {
	id      string
	address *config.Address
	ports   transport.PortBlock
	opts    Options
	log     *log.Entry

	client  *rtsp.Client
	session string
	timeout time.Duration
	public  string
	relays  []*Relay
	stream  *rtsp.Stream
	group   *errgroup.Group
	cancel  context.CancelFunc
}

func NewSession(id string, address *config.Address, ports transport.PortBlock, opts Options) *Session {
	return &Session{
		id:      id,
		address: address,
		ports:   ports,
		opts:    opts,
		log:     log.WithField("camera", id),
	}
}

// Stream returns the registry entry, nil until Connect succeeded.
func (s *Session) Stream() *rtsp.Stream {
	return s.stream
}

// Connect runs the handshake, publishes the camera in the registry and starts
// relaying. Relays and the keepalive run until ctx is cancelled. Nothing is
// retried; on failure every resource opened so far is released.
func (s *Session) Connect(ctx context.Context) (err error) {
	if s.address.Scheme != "rtsp" {
		return fmt.Errorf("%w: %s", ErrUnsupportedScheme, s.address.Scheme)
	}

	dialer := &net.Dialer{}
	nc, err := dialer.DialContext(ctx, "tcp", s.address.HostPort())
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrConnect, s.address.HostPort(), err)
	}
	s.client = rtsp.NewClient(nc, s.opts.UserAgent)
	defer func() {
		if err != nil {
			s.release()
		}
	}()

	description, err := s.describe(ctx)
	if err != nil {
		return err
	}

	var source net.IP
	if addr, ok := nc.RemoteAddr().(*net.TCPAddr); ok {
		source = addr.IP
	}
	tracks := description.Tracks()
	for i := range tracks {
		relay, err := Listen(s.id, i, s.ports.Track(i).RTP(), source)
		if err != nil {
			return err
		}
		s.relays = append(s.relays, relay)
	}

	if err := s.setup(ctx, tracks); err != nil {
		return err
	}
	info, err := s.play(ctx)
	if err != nil {
		return err
	}

	stream, err := s.opts.Registry.Register(s.id, description, info, s.ports)
	if err != nil {
		return err
	}
	s.stream = stream

	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)
	for _, relay := range s.relays {
		relay := relay
		s.group.Go(func() error {
			return relay.Serve(ctx, stream)
		})
	}
	s.group.Go(func() error {
		s.keepalive(ctx)
		return nil
	})
	return nil
}

func (s *Session) describe(ctx context.Context) (*rtsp.Description, error) {
	res, err := s.client.Do(ctx, rtsp.MethodOptions, s.address.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("OPTIONS failed: %w", err)
	}
	s.public = res.Header.Get("Public")

	header := func() http.Header {
		return http.Header{"Accept": []string{"application/sdp"}}
	}
	res, err = s.client.Do(ctx, rtsp.MethodDescribe, s.address.URL, header())
	if err != nil {
		return nil, fmt.Errorf("DESCRIBE failed: %w", err)
	}
	if res.Code == http.StatusUnauthorized {
		realm, nonce, err := rtsp.ParseChallenge(res.Header.Values("WWW-Authenticate"))
		if err != nil {
			return nil, err
		}
		s.client.SetAuth(&rtsp.Digest{
			Username: s.address.Login,
			Password: s.address.Password,
			Realm:    realm,
			Nonce:    nonce,
		})
		s.log.Debug("camera requested digest authentication")

		res, err = s.client.Do(ctx, rtsp.MethodDescribe, s.address.URL, header())
		if err != nil {
			return nil, fmt.Errorf("authenticated DESCRIBE failed: %w", err)
		}
	}
	if err := expectOK(res); err != nil {
		return nil, fmt.Errorf("DESCRIBE: %w", err)
	}

	description, err := rtsp.ParseDescription(res.Body)
	if err != nil {
		return nil, fmt.Errorf("DESCRIBE: %w", err)
	}
	return description, nil
}

func (s *Session) setup(ctx context.Context, tracks []*rtsp.Media) error {
	for _, track := range tracks {
		if track.Control == "" {
			return fmt.Errorf("%w: no control attribute for %s track", rtsp.ErrProtocol, track.Kind)
		}
	}

	for i, track := range tracks {
		header := http.Header{}
		header.Set("Transport", transport.Unicast(transport.ClientPort(s.ports.Track(i))).String())
		if s.session != "" {
			header.Set("Session", s.session)
		}

		uri := s.trackURL(track.Control)
		res, err := s.client.Do(ctx, rtsp.MethodSetup, uri, header)
		if err != nil {
			return fmt.Errorf("SETUP %s failed: %w", uri, err)
		}
		if err := expectOK(res); err != nil {
			return fmt.Errorf("SETUP %s: %w", uri, err)
		}

		if s.session == "" {
			value := res.Header.Get("Session")
			s.session = rtsp.SessionID(value)
			if s.session == "" {
				return fmt.Errorf("%w: SETUP reply without session id", rtsp.ErrProtocol)
			}
			s.timeout = defaultSessionTimeout
			if timeout, ok := rtsp.SessionTimeout(value); ok {
				s.timeout = timeout
			}
		}
	}
	return nil
}

func (s *Session) play(ctx context.Context) (*rtsp.SyncInfo, error) {
	header := http.Header{}
	header.Set("Session", s.session)
	header.Set("Range", "npt=0.000-")

	res, err := s.client.Do(ctx, rtsp.MethodPlay, s.address.URL, header)
	if err != nil {
		return nil, fmt.Errorf("PLAY failed: %w", err)
	}
	start := time.Now()
	if err := expectOK(res); err != nil {
		return nil, fmt.Errorf("PLAY: %w", err)
	}

	tracks, err := rtsp.ParseRTPInfo(res.Header.Get("RTP-Info"))
	if err != nil {
		return nil, fmt.Errorf("PLAY: %w", err)
	}
	return &rtsp.SyncInfo{Tracks: tracks, Start: start}, nil
}

// trackURL resolves a control attribute against the camera URL.
func (s *Session) trackURL(control string) string {
	switch {
	case control == "*":
		return s.address.URL
	case strings.HasPrefix(control, "rtsp://"), strings.HasPrefix(control, "rtsps://"):
		return control
	}
	return strings.TrimSuffix(s.address.URL, "/") + "/" + control
}

// keepalive refreshes the camera session at half its timeout until ctx ends
// or a request fails.
func (s *Session) keepalive(ctx context.Context) {
	method := rtsp.MethodOptions
	if rtsp.HasMethod(s.public, rtsp.MethodGetParameter) {
		method = rtsp.MethodGetParameter
	}

	ticker := time.NewTicker(s.timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		header := http.Header{}
		header.Set("Session", s.session)
		res, err := s.client.Do(ctx, method, s.address.URL, header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			keepaliveErrors.WithLabelValues(s.id).Inc()
			s.log.WithError(err).Warn("camera keepalive failed")
			return
		}
		if err := expectOK(res); err != nil {
			keepaliveErrors.WithLabelValues(s.id).Inc()
			s.log.WithError(err).Warn("camera rejected keepalive")
		}
	}
}

// Close stops the keepalive and relays, then tears the camera session down.
func (s *Session) Close() error {
	if s.client == nil {
		return nil
	}
	var err error
	if s.cancel != nil {
		s.cancel()
		err = s.group.Wait()
	}
	if s.session != "" {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		header := http.Header{}
		header.Set("Session", s.session)
		if _, err := s.client.Do(ctx, rtsp.MethodTeardown, s.address.URL, header); err != nil {
			s.log.WithError(err).Debug("camera TEARDOWN failed")
		}
		cancel()
	}
	s.release()
	return err
}

func (s *Session) release() {
	for _, relay := range s.relays {
		relay.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
}

func expectOK(res *rtsp.Response) error {
	if res.Code < 200 || res.Code > 299 {
		return fmt.Errorf("%w: status %d %s", rtsp.ErrProtocol, res.Code, res.Message)
	}
	return nil
}
