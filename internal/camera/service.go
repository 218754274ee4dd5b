package camera

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/rtsp-relay/internal/config"
	"github.com/bilbercode/rtsp-relay/internal/rtsp/transport"
)

var (
	cameraErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "camera_errors",
		Namespace: "rtsp_relay",
		Help:      "number of errors the camera has encountered",
	}, []string{"camera"})
	camerasConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "cameras_connected",
		Namespace: "rtsp_relay",
		Help:      "number of cameras relaying",
	})
	keepaliveErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "keepalive_errors",
		Namespace: "rtsp_relay",
		Help:      "number of failed camera keepalive requests",
	}, []string{"camera"})
)

type service struct {
	cameras []config.Camera
	opts    Options

	mu       sync.Mutex
	sessions []*Session
}

func NewService(cameras []config.Camera, opts Options) Service {
	return &service{cameras: cameras, opts: opts}
}

func (s *service) Start(ctx context.Context) error {
	for i, camera := range s.cameras {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger := log.WithField("camera", camera.ID)

		address, err := config.ParseAddress(camera.URL)
		if err != nil {
			cameraErrors.WithLabelValues(camera.ID).Inc()
			logger.WithError(err).Error("invalid camera url")
			continue
		}

		ports := transport.Allocate(s.opts.StartUDPPort, i)
		logger.Infof("connecting to %s", address.URL)
		session := NewSession(camera.ID, address, ports, s.opts)
		if err := session.Connect(ctx); err != nil {
			cameraErrors.WithLabelValues(camera.ID).Inc()
			logger.WithError(err).Error("camera unavailable")
			continue
		}

		s.mu.Lock()
		s.sessions = append(s.sessions, session)
		s.mu.Unlock()
		camerasConnected.Inc()

		logger.WithFields(log.Fields{
			"tracks": len(session.Stream().Description.Tracks()),
			"ports":  ports[0].String() + "," + ports[1].String(),
		}).Info("camera connected")
		if s.opts.Events != nil {
			s.opts.Events.Add("Camera [%s] connected", camera.ID)
		}
	}
	return nil
}

func (s *service) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = nil
	s.mu.Unlock()

	for _, session := range sessions {
		if err := session.Close(); err != nil {
			log.WithError(err).WithField("camera", session.id).Warn("camera relay stopped with error")
		}
		camerasConnected.Dec()
	}
}
