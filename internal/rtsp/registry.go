package rtsp

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bilbercode/rtsp-relay/internal/rtsp/transport"
)

// Registry is the process wide table of connected cameras. It only guards
// the table itself; each Stream locks its own viewers.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*Stream)}
}

// Register publishes a camera that completed its handshake. A camera is
// registered at most once.
func (r *Registry) Register(id string, d *Description, s *SyncInfo, ports transport.PortBlock) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	stream := newStream(id, d, s, ports)
	r.streams[id] = stream
	return stream, nil
}

func (r *Registry) Lookup(id string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	return s, ok
}

// IDs lists the registered cameras, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
