package camera

import (
	"context"

	"github.com/bilbercode/rtsp-relay/internal/rtsp"
)

type Service interface {
	// Start connects every configured camera in order. A camera that fails
	// stays absent from the registry; Start itself only fails on ctx.
	Start(ctx context.Context) error
	// Close tears every connected camera down.
	Close()
}

type Options struct {
	Registry *rtsp.Registry
	// StartUDPPort is the base of the per camera port blocks.
	StartUDPPort int
	UserAgent    string
	Events       rtsp.EventLog
}
