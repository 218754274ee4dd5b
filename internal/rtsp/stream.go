package rtsp

import (
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/bilbercode/rtsp-relay/internal/rtsp/transport"
)

// Viewer is one PLAYing downstream session.
type Viewer struct {
	SessionID string
	Host      string
	Ports     []transport.PortPair
	Web       bool
	Conn      io.Closer
}

// Stream is the registry entry of one connected camera. Description, Sync and
// Ports never change after registration; the viewer set is guarded by the
// entry's own lock.
type Stream struct {
	ID          string
	Description *Description
	Sync        *SyncInfo
	Ports       transport.PortBlock

	mu      sync.RWMutex
	viewers map[string]*Viewer
	order   []string
	targets [][]*net.UDPAddr
}

func newStream(id string, d *Description, s *SyncInfo, ports transport.PortBlock) *Stream {
	return &Stream{
		ID:          id,
		Description: d,
		Sync:        s,
		Ports:       ports,
		viewers:     make(map[string]*Viewer),
		targets:     make([][]*net.UDPAddr, len(d.Tracks())),
	}
}

// Admit registers v under its session id and applies the web viewer limit.
// A re-registered id keeps its original position; an id held by another
// connection is refused with ErrSessionInUse. It returns the web viewers
// whose connections were closed; their registry entries go away when their
// own sessions notice the loss. v itself is never evicted.
func (s *Stream) Admit(v *Viewer, webLimit int) ([]*Viewer, error) {
	s.mu.Lock()
	if current, ok := s.viewers[v.SessionID]; ok {
		if current.Conn != v.Conn {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrSessionInUse, v.SessionID)
		}
	} else {
		s.order = append(s.order, v.SessionID)
	}
	s.viewers[v.SessionID] = v
	s.rebuildTargets()

	var evicted []*Viewer
	if webLimit > 0 && v.Web {
		var web []*Viewer
		for _, id := range s.order {
			if viewer := s.viewers[id]; viewer.Web {
				web = append(web, viewer)
			}
		}
		if len(web) > webLimit {
			for _, viewer := range web[:len(web)-webLimit] {
				if viewer.SessionID != v.SessionID {
					evicted = append(evicted, viewer)
				}
			}
		}
	}
	s.mu.Unlock()

	for _, viewer := range evicted {
		_ = viewer.Conn.Close()
	}
	return evicted, nil
}

// Remove drops session id if it is still owned by conn.
func (s *Stream) Remove(id string, conn io.Closer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.viewers[id]
	if !ok || v.Conn != conn {
		return false
	}
	delete(s.viewers, id)
	for i, sid := range s.order {
		if sid == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	s.rebuildTargets()
	return true
}

// HeldByOther reports whether id is live under a connection other than conn.
func (s *Stream) HeldByOther(id string, conn io.Closer) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.viewers[id]
	return ok && v.Conn != conn
}

// Has reports whether id is a live session of this camera.
func (s *Stream) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.viewers[id]
	return ok
}

// Viewers returns the live sessions in registration order.
func (s *Stream) Viewers() []*Viewer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Viewer, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.viewers[id])
	}
	return out
}

// Targets returns the RTP destinations of the track. The slice is a snapshot
// and must not be modified.
func (s *Stream) Targets(track int) []*net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if track < 0 || track >= len(s.targets) {
		return nil
	}
	return s.targets[track]
}

// rebuildTargets replaces, never mutates, the per-track slices so snapshots
// handed out earlier stay valid. Callers hold the write lock.
func (s *Stream) rebuildTargets() {
	targets := make([][]*net.UDPAddr, len(s.targets))
	for _, id := range s.order {
		v := s.viewers[id]
		ip := net.ParseIP(v.Host)
		if ip == nil {
			continue
		}
		for track := range targets {
			if track < len(v.Ports) {
				targets[track] = append(targets[track], &net.UDPAddr{IP: ip, Port: v.Ports[track].RTP()})
			}
		}
	}
	s.targets = targets
}
