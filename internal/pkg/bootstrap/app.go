// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"eatcloud/internal/pkg/config"
	"eatcloud/internal/pkg/nacos"
)

const shutdownTimeout = 10 * time.Second

type AppCtx struct {
	Mux      *http.ServeMux
	Nacos    *nacos.Client
	Settings *config.Settings
}

// Worker is a background loop that runs until ctx is cancelled.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// AppInfo holds everything StartService needs from one service's composition root.
type AppInfo struct {
	Settings         *config.Settings
	Nacos            *nacos.Client // optional
	RegisterHandlers func(appCtx AppCtx)
	Workers          []Worker
	// Cleanup runs in reverse order after the HTTP server and workers stopped.
	Cleanup []func(ctx context.Context) error
}

// StartService serves /healthz, /metrics and the service routes, runs the workers in
// one errgroup, and shuts everything down on SIGINT/SIGTERM or on the first worker error.
func StartService(info AppInfo) error {
	s := info.Settings
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: info.Nacos, Settings: s})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(s.App.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var ip string
	if info.Nacos != nil {
		var err error
		if ip, err = OutboundIP(); err != nil {
			return errors.Wrap(err, "resolve outbound ip")
		}
		if err := info.Nacos.RegisterServiceInstance(s.App.Name, ip, s.App.Port); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("service", s.App.Name).Int("port", s.App.Port).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	for _, w := range info.Workers {
		w := w
		g.Go(func() error {
			log.Info().Str("worker", w.Name).Msg("worker started")
			err := w.Run(gctx)
			if err != nil {
				log.Error().Err(err).Str("worker", w.Name).Msg("worker stopped with error")
				return errors.Wrapf(err, "worker %s", w.Name)
			}
			log.Info().Str("worker", w.Name).Msg("worker stopped")
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("service", s.App.Name).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown http server")
		}
		return nil
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if info.Nacos != nil {
		if err := info.Nacos.DeregisterServiceInstance(s.App.Name, ip, s.App.Port); err != nil {
			log.Error().Err(err).Msg("deregister from nacos")
		}
		info.Nacos.Close()
	}
	for i := len(info.Cleanup) - 1; i >= 0; i-- {
		if err := info.Cleanup[i](shutdownCtx); err != nil {
			log.Error().Err(err).Msg("cleanup")
		}
	}
	log.Info().Str("service", s.App.Name).Msg("service stopped")
	return runErr
}

// OutboundIP returns the local address used for outbound traffic, used as the registered instance ip.
func OutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
