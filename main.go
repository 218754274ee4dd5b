package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/jawher/mow.cli"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bilbercode/rtsp-relay/internal/camera"
	"github.com/bilbercode/rtsp-relay/internal/config"
	"github.com/bilbercode/rtsp-relay/internal/journal"
	"github.com/bilbercode/rtsp-relay/internal/rtsp"
)

const (
	appName = "rtsp-relay"
	appDesc = "RTSP camera relay"
)

func main() {

	app := cli.App(appName, appDesc)

	configFile := app.String(cli.StringOpt{
		Name:   "config",
		Desc:   "path to the YAML configuration file",
		EnvVar: "CONFIG_FILE",
		Value:  "config.yaml",
	})

	logLevel := app.String(cli.StringOpt{
		Name:   "log.level",
		Desc:   "log level (debug, info, warn, error)",
		EnvVar: "LOG_LEVEL",
		Value:  "info",
	})

	logFormat := app.String(cli.StringOpt{
		Name:   "log.format",
		Desc:   "log format (text, json)",
		EnvVar: "LOG_FORMAT",
		Value:  "text",
	})

	app.Action = func() {
		if err := configureLogging(*logLevel, *logFormat); err != nil {
			log.WithError(err).Fatal("invalid logging options")
		}

		conf, err := config.Load(*configFile)
		if err != nil {
			log.WithError(err).Fatal("failed to load configuration")
		}
		localIP, err := conf.AdvertisedIP()
		if err != nil {
			log.WithError(err).Fatal("failed to determine the local IP, set local_ip")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		registry := rtsp.NewRegistry()
		events := journal.New(conf.LogFile)

		cameras := camera.NewService(conf.Cameras, camera.Options{
			Registry:     registry,
			StartUDPPort: conf.StartUDPPort,
			UserAgent:    appName,
			Events:       events,
		})
		defer cameras.Close()

		if err := cameras.Start(ctx); err != nil {
			log.WithError(err).Info("stopped while connecting cameras")
			return
		}
		log.Infof("%d of %d cameras connected", len(registry.IDs()), len(conf.Cameras))

		server := rtsp.NewServer(rtsp.Options{
			Registry: registry,
			Known:    conf.Known,
			Name:     appName,
			Address:  localIP.String(),
			Port:     conf.RTSPPort,
			WebLimit: conf.Limit(),
			Classifier: rtsp.Classifier{
				LocalIP: localIP,
				LAN:     conf.Network(),
			},
			Events: events,
		})

		group, ctx := errgroup.WithContext(ctx)

		group.Go(func() error {
			return server.Start(ctx, fmt.Sprintf(":%d", conf.RTSPPort))
		})

		if conf.MetricsAddress != "" {
			group.Go(func() error {
				return serveMetrics(ctx, conf.MetricsAddress)
			})
		}

		if err := group.Wait(); err != nil {
			log.WithError(err).Error("stopped")
			return
		}
		log.Info("shutting down")
	}

	err := app.Run(os.Args)
	if err != nil {
		log.WithError(err).Fatal("failed to execute application")
	}
}

func configureLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)

	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	log.Infof("serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
