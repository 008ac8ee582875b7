package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/consult/internal/adapters/http"
	"github.com/dkeye/consult/internal/adapters/media"
	"github.com/dkeye/consult/internal/adapters/rtc"
	"github.com/dkeye/consult/internal/adapters/signal"
	"github.com/dkeye/consult/internal/app/call"
	"github.com/dkeye/consult/internal/app/screen"
	"github.com/dkeye/consult/internal/config"
	"github.com/dkeye/consult/internal/core"
)

func main() {
	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	codecs, err := media.DefaultCodecs()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build encoders")
	}
	mediaMgr := media.NewManager(media.Options{Codecs: codecs})
	media.RegisterMetrics(promReg, mediaMgr)

	negotiator, err := rtc.NewNegotiator(rtc.Options{
		ICETimeouts: rtc.ICETimeouts{
			Disconnected: cfg.ICE.DisconnectedTimeout,
			Failed:       cfg.ICE.FailedTimeout,
			Keepalive:    cfg.ICE.KeepaliveInterval,
		},
		RegisterCodecs: media.RegisterCodecs(codecs),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up webrtc")
	}

	var connect screen.Connect
	if cfg.SignalURL == "" {
		// both parties use this process; pair them in memory
		hub := signal.NewHub()
		connect = func(consultation string) (screen.Endpoint, error) {
			port, err := hub.Join(consultation)
			if err != nil {
				return nil, err
			}
			return port, nil
		}
	} else {
		settings := signal.Settings{ReadLimit: cfg.ReadLimit, PingPeriod: cfg.PingPeriod}
		connect = func(consultation string) (screen.Endpoint, error) {
			dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
			defer dialCancel()
			client, err := signal.Dial(dialCtx, cfg.SignalURL, consultation, settings)
			if err != nil {
				return nil, err
			}
			return client, nil
		}
	}

	callMetrics := call.NewMetrics(promReg)
	callCfg := call.Config{
		ICEServers:     cfg.WebRTCICEServers(),
		Constraints:    cfg.Constraints(),
		ConnectTimeout: cfg.ConnectTimeout,
	}
	screens := screen.NewRegistry(connect, func(id screen.ID, sig core.SignalingPort) *call.Controller {
		return call.NewController(mediaMgr, negotiator, sig, callCfg, call.WithMetrics(callMetrics))
	})

	r := router.SetupRouter(cfg, router.Deps{
		Screens: screens,
		Limiter: router.NewStartLimiter(cfg.StartLimit.Attempts, cfg.StartLimit.Interval),
		Metrics: promReg,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	// request contexts end with the process so event streams let go on shutdown
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info().
			Str("addr", addr).
			Bool("capture", media.CaptureEnabled).
			Str("signal", cfg.SignalURL).
			Msg("consult server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// ends every live call, which stops capture and sends the hangups
	screens.CloseAll()
	log.Info().Msg("Server exited gracefully")
}
