package camera

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

// maxDatagram is the largest UDP payload.
const maxDatagram = 65535

var relayedPackets = promauto.NewCounterVec(prometheus.CounterOpts{
	Name:      "relayed_packets",
	Namespace: "rtsp_relay",
	Help:      "number of RTP datagrams received from a camera and fanned out",
}, []string{"camera", "track"})

// Targets supplies the current viewer destinations of a track.
type Targets interface {
	Targets(track int) []*net.UDPAddr
}

// Relay receives one track of a camera on its allocated port and forwards
// every datagram unchanged to the viewers of that track.
type Relay struct {
	camera string
	track  int
	conn   *net.UDPConn
	source net.IP
	log    *log.Entry
}

// Listen binds the relay to port on all interfaces. Datagrams not sent from
// source are dropped; a nil source accepts any sender.
func Listen(camera string, track, port int, source net.IP) (*Relay, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to bind track %d of camera %s to port %d: %w", track+1, camera, port, err)
	}
	return &Relay{
		camera: camera,
		track:  track,
		conn:   conn,
		source: source,
		log: log.WithFields(log.Fields{
			"camera": camera,
			"track":  track + 1,
			"port":   port,
		}),
	}, nil
}

func (r *Relay) LocalAddr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Serve forwards datagrams until ctx is cancelled or the relay is closed.
func (r *Relay) Serve(ctx context.Context, targets Targets) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			r.conn.Close()
		case <-stop:
		}
	}()

	packets := relayedPackets.WithLabelValues(r.camera, strconv.Itoa(r.track+1))
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("relay for track %d of camera %s failed: %w", r.track+1, r.camera, err)
		}
		if r.source != nil && !from.IP.Equal(r.source) {
			r.log.WithField("from", from.String()).Debug("dropping datagram from unexpected source")
			continue
		}

		packets.Inc()
		for _, target := range targets.Targets(r.track) {
			if _, err := r.conn.WriteToUDP(buf[:n], target); err != nil {
				r.log.WithError(err).WithField("target", target.String()).Debug("failed to forward datagram")
			}
		}
	}
}

func (r *Relay) Close() error {
	return r.conn.Close()
}
