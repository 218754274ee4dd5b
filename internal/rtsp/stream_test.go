package rtsp

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilbercode/rtsp-relay/internal/rtsp/transport"
)

type fakeConn struct {
	mu     sync.Mutex
	closed int
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeConn) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed > 0
}

func testStream(t *testing.T) *Stream {
	t.Helper()
	r := NewRegistry()
	s, err := r.Register("cam", &Description{
		Video: &Media{Kind: KindVideo, Line: "0 RTP/AVP 96"},
		Audio: &Media{Kind: KindAudio, Line: "0 RTP/AVP 8"},
	}, &SyncInfo{}, transport.Allocate(5550, 0))
	require.NoError(t, err)
	return s
}

func viewer(id, host string, web bool) (*Viewer, *fakeConn) {
	conn := &fakeConn{}
	return &Viewer{
		SessionID: id,
		Host:      host,
		Ports:     []transport.PortPair{{7000, 7001}, {7002, 7003}},
		Web:       web,
		Conn:      conn,
	}, conn
}

func admit(t *testing.T, s *Stream, v *Viewer, webLimit int) []*Viewer {
	t.Helper()
	evicted, err := s.Admit(v, webLimit)
	require.NoError(t, err)
	return evicted
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	d := &Description{Video: &Media{Kind: KindVideo}}

	_, err := r.Register("b", d, &SyncInfo{}, transport.Allocate(5550, 0))
	require.NoError(t, err)
	_, err = r.Register("a", d, &SyncInfo{}, transport.Allocate(5550, 1))
	require.NoError(t, err)

	_, err = r.Register("a", d, &SyncInfo{}, transport.Allocate(5550, 1))
	assert.True(t, errors.Is(err, ErrAlreadyRegistered))

	assert.Equal(t, []string{"a", "b"}, r.IDs())
	_, ok := r.Lookup("missing")
	assert.False(t, ok)
}

func TestStream_WebLimitEviction(t *testing.T) {
	assert := assert.New(t)
	s := testStream(t)

	a, connA := viewer("aaaaaaaaa", "203.0.113.1", true)
	b, connB := viewer("bbbbbbbbb", "203.0.113.2", true)
	c, connC := viewer("ccccccccc", "203.0.113.3", true)
	d, connD := viewer("ddddddddd", "203.0.113.4", true)

	assert.Empty(admit(t, s, a, 2))
	assert.Empty(admit(t, s, b, 2))

	// closing is asynchronous: A stays registered until its session cleans up
	evicted := admit(t, s, c, 2)
	assert.Equal([]*Viewer{a}, evicted)

	evicted = admit(t, s, d, 2)
	assert.Equal([]*Viewer{a, b}, evicted)

	assert.True(connA.Closed())
	assert.True(connB.Closed())
	assert.False(connC.Closed())
	assert.False(connD.Closed())
}

func TestStream_LocalViewersNeverEvicted(t *testing.T) {
	assert := assert.New(t)
	s := testStream(t)

	var locals []*fakeConn
	for _, id := range []string{"local0001", "local0002", "local0003"} {
		v, conn := viewer(id, "192.168.1.20", false)
		locals = append(locals, conn)
		assert.Empty(admit(t, s, v, 1))
	}

	w1, conn1 := viewer("web000001", "198.51.100.1", true)
	w2, conn2 := viewer("web000002", "198.51.100.2", true)
	assert.Empty(admit(t, s, w1, 1))
	assert.Equal([]*Viewer{w1}, admit(t, s, w2, 1))

	assert.True(conn1.Closed())
	assert.False(conn2.Closed())
	for _, conn := range locals {
		assert.False(conn.Closed())
	}
}

func TestStream_NoLimit(t *testing.T) {
	s := testStream(t)
	for _, id := range []string{"web000001", "web000002", "web000003"} {
		v, _ := viewer(id, "198.51.100.1", true)
		assert.Empty(t, admit(t, s, v, 0))
	}
	assert.Len(t, s.Viewers(), 3)
}

func TestStream_NewViewerNotSelfEvicted(t *testing.T) {
	s := testStream(t)

	old, oldConn := viewer("web000001", "198.51.100.1", true)
	admit(t, s, old, 1)
	newer, _ := viewer("web000002", "198.51.100.2", true)
	admit(t, s, newer, 1)
	assert.True(t, oldConn.Closed())

	// re-PLAY on the same connection keeps its position and is not evicted
	again := *old
	assert.Empty(t, admit(t, s, &again, 1))
	assert.Equal(t, []string{"web000001", "web000002"}, viewerIDs(s))
}

func TestStream_AdmitRefusesForeignConnection(t *testing.T) {
	assert := assert.New(t)
	s := testStream(t)

	owner, ownerConn := viewer("aaaaaaaaa", "10.1.1.1", false)
	admit(t, s, owner, 0)

	intruder, intruderConn := viewer("aaaaaaaaa", "10.6.6.6", false)
	intruder.Ports = []transport.PortPair{{9000, 9001}}
	assert.True(s.HeldByOther("aaaaaaaaa", intruderConn))
	assert.False(s.HeldByOther("aaaaaaaaa", ownerConn))
	assert.False(s.HeldByOther("unknown00", intruderConn))

	evicted, err := s.Admit(intruder, 0)
	assert.ErrorIs(err, ErrSessionInUse)
	assert.Empty(evicted)

	assert.Equal([]*Viewer{owner}, s.Viewers())
	assert.Equal("10.1.1.1:7000", s.Targets(0)[0].String())
	assert.False(ownerConn.Closed())
	assert.False(intruderConn.Closed())
}

func viewerIDs(s *Stream) []string {
	var ids []string
	for _, v := range s.Viewers() {
		ids = append(ids, v.SessionID)
	}
	return ids
}

func TestStream_RemoveExactlyOne(t *testing.T) {
	assert := assert.New(t)
	s := testStream(t)

	a, connA := viewer("aaaaaaaaa", "10.1.1.1", false)
	b, _ := viewer("bbbbbbbbb", "10.1.1.2", false)
	admit(t, s, a, 0)
	admit(t, s, b, 0)

	// only the owning connection may remove the session
	assert.False(s.Remove("aaaaaaaaa", &fakeConn{}))
	assert.True(s.Has("aaaaaaaaa"))

	assert.True(s.Remove("aaaaaaaaa", connA))
	assert.False(s.Has("aaaaaaaaa"))
	assert.True(s.Has("bbbbbbbbb"))
	assert.False(s.Remove("aaaaaaaaa", connA))

	assert.Equal([]*Viewer{b}, s.Viewers())
}

func TestStream_Targets(t *testing.T) {
	assert := assert.New(t)
	s := testStream(t)

	a, connA := viewer("aaaaaaaaa", "10.1.1.1", false)
	b, _ := viewer("bbbbbbbbb", "10.1.1.2", false)
	b.Ports = b.Ports[:1]
	admit(t, s, a, 0)
	admit(t, s, b, 0)

	video := s.Targets(0)
	require.Len(t, video, 2)
	assert.Equal("10.1.1.1:7000", video[0].String())
	assert.Equal("10.1.1.2:7000", video[1].String())

	audio := s.Targets(1)
	require.Len(t, audio, 1)
	assert.Equal(&net.UDPAddr{IP: net.ParseIP("10.1.1.1"), Port: 7002}, audio[0])

	s.Remove("aaaaaaaaa", connA)
	// earlier snapshots are not mutated
	assert.Len(video, 2)
	assert.Len(s.Targets(0), 1)
	assert.Nil(s.Targets(5))
}

func TestClassifier_IsWeb(t *testing.T) {
	_, lan, err := net.ParseCIDR("192.168.0.0/16")
	require.NoError(t, err)
	c := Classifier{LocalIP: net.ParseIP("192.168.1.10"), LAN: lan}

	assert := assert.New(t)
	assert.False(c.IsWeb("127.0.0.1"))
	assert.False(c.IsWeb("::1"))
	assert.False(c.IsWeb("localhost"))
	assert.False(c.IsWeb("192.168.1.55"))
	assert.True(c.IsWeb("192.168.1.10"))
	assert.True(c.IsWeb("10.0.0.7"))
	assert.True(c.IsWeb("203.0.113.9"))
	assert.True(c.IsWeb("not-an-ip"))
}
