package rtsp

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/rtsp-relay/internal/rtsp/transport"
)

// session is the state of one viewer control connection.
type session struct {
	server *Server
	conn   net.Conn
	br     *bufio.Reader
	host   string
	log    *log.Entry

	camera     string
	stream     *Stream
	id         string
	ports      []transport.PortPair
	registered string
}

func newSession(s *Server, nc net.Conn) *session {
	host, _, err := net.SplitHostPort(nc.RemoteAddr().String())
	if err != nil {
		host = nc.RemoteAddr().String()
	}
	return &session{
		server: s,
		conn:   nc,
		br:     bufio.NewReaderSize(nc, maxLineSize),
		host:   host,
		log:    log.NewEntry(log.StandardLogger()),
	}
}

// serve answers requests until the connection fails or a request is rejected.
func (ss *session) serve() error {
	for {
		request, err := ReadRequest(ss.br)
		if err != nil {
			return err
		}
		if err := ss.dispatch(request); err != nil {
			return fmt.Errorf("%s %s: %w", request.Method, request.URL, err)
		}
	}
}

func (ss *session) dispatch(request *Request) error {
	if request.Sequence == "" {
		return ErrMissingCSeq
	}
	if err := ss.resolve(request); err != nil {
		return err
	}
	ss.log.WithField("cseq", request.Sequence).Debugf("%s %s", request.Method, request.URL)

	switch request.Method {
	case MethodOptions:
		return ss.handleOptions(request)
	case MethodDescribe:
		return ss.handleDescribe(request)
	case MethodSetup:
		return ss.handleSetup(request)
	case MethodPlay:
		return ss.handlePlay(request)
	case MethodTeardown:
		return ss.handleTeardown(request)
	case MethodGetParameter:
		return ss.handleGetParameter(request)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMethod, request.Method)
	}
}

// resolve locks the connection to the camera named by the first request
// that names one.
func (ss *session) resolve(request *Request) error {
	id := cameraFromURL(request.URL)
	if ss.stream != nil {
		if id != "" && id != ss.camera {
			return fmt.Errorf("%w: %s after %s", ErrCameraMismatch, id, ss.camera)
		}
		return nil
	}

	if id == "" {
		if request.Method == MethodOptions {
			return nil
		}
		return fmt.Errorf("%w: no camera in %q", ErrUnknownCamera, request.URL)
	}
	if !ss.server.opts.Known(id) {
		return fmt.Errorf("%w: %s", ErrUnknownCamera, id)
	}
	stream, ok := ss.server.opts.Registry.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCameraOffline, id)
	}
	ss.camera = id
	ss.stream = stream
	ss.log = ss.log.WithField("camera", id)
	return nil
}

// cameraFromURL returns the first path segment of a request URL.
func cameraFromURL(raw string) string {
	if raw == "*" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	first, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	return first
}

func (ss *session) reply(request *Request, header http.Header, body []byte) error {
	res := NewResponse(request.Sequence)
	for k, v := range header {
		res.Header[k] = v
	}
	res.Body = body
	return res.Write(ss.conn)
}

func (ss *session) handleOptions(request *Request) error {
	header := http.Header{}
	header.Set("Public", PublicHeader(serverMethods...))
	return ss.reply(request, header, nil)
}

func (ss *session) handleDescribe(request *Request) error {
	if ss.stream == nil {
		return fmt.Errorf("%w: DESCRIBE without camera", ErrUnknownCamera)
	}
	body, err := ss.stream.Description.Render(ss.server.opts.Name, ss.server.opts.Address)
	if err != nil {
		return fmt.Errorf("failed to render SDP: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/sdp")
	header.Set("Content-Base", strings.TrimSuffix(request.URL, "/")+"/")
	return ss.reply(request, header, body)
}

func (ss *session) handleSetup(request *Request) error {
	track := len(ss.ports)
	if track >= len(transport.PortBlock{}) {
		return fmt.Errorf("%w: SETUP number %d", ErrTooManyTracks, track+1)
	}

	opts, err := transport.Parse(request.Header.Get("Transport"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTransport, err)
	}
	var client transport.PortPair
	found := false
	for _, opt := range opts {
		if opt.Protocol() != transport.ProtocolUDP {
			continue
		}
		if client, found = opt.ClientPort(); found {
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: no UDP client_port in %q", ErrMalformedTransport, request.Header.Get("Transport"))
	}

	if id := SessionID(request.Header.Get("Session")); id != "" {
		switch {
		case ss.id != "" && id != ss.id:
			return fmt.Errorf("%w: %s changed to %s", ErrProtocol, ss.id, id)
		case ss.stream.HeldByOther(id, ss.conn):
			return fmt.Errorf("%w: %s", ErrSessionInUse, id)
		}
		ss.id = id
	}
	if ss.id == "" {
		ss.id = ss.server.newSessionID(ss.stream)
	}
	ss.ports = append(ss.ports, client)

	header := http.Header{}
	header.Set("Transport", transport.Unicast(
		transport.ClientPort(client),
		transport.ServerPort(ss.stream.Ports.Track(track)),
	).String())
	header.Set("Session", fmt.Sprintf("%s;timeout=%d", ss.id, sessionTimeout))
	return ss.reply(request, header, nil)
}

func (ss *session) handlePlay(request *Request) error {
	if len(ss.ports) == 0 {
		return ErrNotSetup
	}
	id := ss.id
	if requested := SessionID(request.Header.Get("Session")); requested != "" && requested != id {
		return fmt.Errorf("%w: PLAY for %s on session %s", ErrProtocol, requested, id)
	}

	stream := ss.stream
	opts := ss.server.opts
	base := fmt.Sprintf("rtsp://%s:%d/%s", opts.Address, opts.Port, ss.camera)
	positions := stream.Sync.Now(stream.Description.Tracks(), ss.server.now())

	viewer := &Viewer{
		SessionID: id,
		Host:      ss.host,
		Ports:     append([]transport.PortPair(nil), ss.ports...),
		Web:       opts.Classifier.IsWeb(ss.host),
		Conn:      ss.conn,
	}
	evicted, err := stream.Admit(viewer, opts.WebLimit)
	if err != nil {
		return err
	}
	ss.registered = id

	header := http.Header{}
	header.Set("Session", id)
	header.Set("Range", "npt=0.000-")
	if len(positions) > 0 {
		header.Set("RTP-Info", FormatRTPInfo(base, positions))
	}
	if err := ss.reply(request, header, nil); err != nil {
		return err
	}

	kind := "local"
	if viewer.Web {
		kind = "web"
	}
	viewerAdmissions.WithLabelValues(ss.camera, kind).Inc()
	viewersActive.WithLabelValues(ss.camera).Set(float64(len(stream.Viewers())))
	for _, v := range evicted {
		ss.log.WithFields(log.Fields{"session": v.SessionID, "host": v.Host}).
			Info("web limit exceeded, closing old connection")
		viewerEvictions.WithLabelValues(ss.camera).Inc()
	}
	ss.server.events("Play [%s] [%s] [%s]", ss.camera, id, ss.host)
	return nil
}

func (ss *session) handleTeardown(request *Request) error {
	header := http.Header{}
	if id := ss.sessionOf(request); id != "" {
		header.Set("Session", id)
	}
	return ss.reply(request, header, nil)
}

func (ss *session) handleGetParameter(request *Request) error {
	header := http.Header{}
	if id := ss.sessionOf(request); id != "" {
		header.Set("Session", id)
	}
	return ss.reply(request, header, nil)
}

func (ss *session) sessionOf(request *Request) string {
	if id := SessionID(request.Header.Get("Session")); id != "" {
		return id
	}
	return ss.id
}

// cleanup deregisters the viewer after its control connection is gone.
func (ss *session) cleanup() {
	if ss.stream == nil || ss.registered == "" {
		return
	}
	if !ss.stream.Remove(ss.registered, ss.conn) {
		return
	}
	viewersActive.WithLabelValues(ss.camera).Set(float64(len(ss.stream.Viewers())))
	ss.server.events("Close [%s] [%s] [%s]", ss.camera, ss.registered, ss.host)
}
