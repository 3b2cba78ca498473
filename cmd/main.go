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

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/satriahrh/voicelink/adapters/capture"
	"github.com/satriahrh/voicelink/adapters/playback"
	"github.com/satriahrh/voicelink/adapters/transport"
	"github.com/satriahrh/voicelink/domain/entities"
	"github.com/satriahrh/voicelink/domain/repositories"
	"github.com/satriahrh/voicelink/internal/api"
	"github.com/satriahrh/voicelink/internal/auth"
	capturepipeline "github.com/satriahrh/voicelink/internal/capture"
	"github.com/satriahrh/voicelink/internal/config"
	"github.com/satriahrh/voicelink/internal/connection"
	"github.com/satriahrh/voicelink/internal/console"
	"github.com/satriahrh/voicelink/internal/eventloop"
	"github.com/satriahrh/voicelink/internal/logger"
	"github.com/satriahrh/voicelink/internal/metrics"
	playbackqueue "github.com/satriahrh/voicelink/internal/playback"
	"github.com/satriahrh/voicelink/internal/session"
)

const (
	shutdownTimeout       = 10 * time.Second
	closeHandshakeTimeout = 3 * time.Second
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if config.IsHelp(err) {
			fmt.Fprintln(os.Stdout, err)
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := logger.New(logger.Options{
		Level:        cfg.Logging.Level,
		File:         cfg.Logging.File,
		ConsoleLevel: cfg.Logging.ConsoleLevel,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(2)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("Client exited with error", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	loop := eventloop.New(nil, log)

	dialer, err := newDialer(cfg.Server, log)
	if err != nil {
		return err
	}
	manager := connection.NewManager(loop, dialer, connection.Config{
		URL:            cfg.Server.EndpointURL(),
		ReconnectDelay: cfg.Server.ReconnectDelay,
	}, m, log.Named("connection"))

	captureFormat := entities.AudioFormat{
		SampleRate:    cfg.Audio.CaptureSampleRate,
		Channels:      cfg.Audio.Channels,
		BitsPerSample: 16,
	}
	pipeline := capturepipeline.NewPipeline(loop, newCaptureDevice(cfg.Audio, loop, log), manager, capturepipeline.Config{
		Format:        captureFormat,
		ChunkInterval: cfg.Audio.ChunkInterval,
	}, m, log.Named("capture"))

	player, err := newPlayer(cfg.Audio, loop, log)
	if err != nil {
		return err
	}
	queue := playbackqueue.NewQueue(loop, player, m, log.Named("playback"))

	chat := entities.NewChatLog()
	view := console.New(os.Stdout, chat, log.Named("console"))

	sess := session.NewSession(loop, manager, pipeline, queue, view, session.Options{
		Transcripts: cfg.Session.Transcripts,
	}, log.Named("session"))

	// the loop outlives ctx so that shutdown can still close the session on it
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- loop.Run(context.Background())
	}()

	sess.Open()
	log.Info("Client started",
		zap.String("sessionID", sess.ID()),
		zap.String("url", cfg.Server.EndpointURL()),
		zap.String("source", cfg.Audio.Source),
		zap.String("sink", cfg.Audio.Sink))

	var e *echo.Echo
	if cfg.Debug.Addr != "" {
		e = newDebugServer(sess, chat, registry, log.Named("api"))
		go func() {
			if err := e.Start(cfg.Debug.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Debug server stopped", zap.Error(err))
			}
		}()
	}

	fmt.Fprintln(os.Stdout, "press Enter to talk, Enter again to send, q to quit")
	if err := view.Run(ctx, os.Stdin, sess); err != nil {
		log.Warn("Console input failed", zap.Error(err))
	}

	log.Info("Client is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := sess.Close(shutdownCtx); err != nil && !errors.Is(err, eventloop.ErrStopped) {
		log.Warn("Session close failed", zap.Error(err))
	}
	waitClosed(shutdownCtx, loop, manager, log)
	if e != nil {
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Warn("Debug server forced to shutdown", zap.Error(err))
		}
	}
	loop.Stop()
	<-loopDone

	log.Info("Client exited")
	return nil
}

// waitClosed gives the close handshake a chance to finish before the process exits
func waitClosed(ctx context.Context, loop *eventloop.Loop, manager *connection.Manager, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, closeHandshakeTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		var status connection.Status
		if err := loop.Call(ctx, func() { status = manager.Status() }); err != nil {
			return
		}
		if status == connection.StatusClosed {
			return
		}
		select {
		case <-ctx.Done():
			log.Warn("Close handshake did not finish", zap.Stringer("status", status))
			return
		case <-ticker.C:
		}
	}
}

func newDialer(server config.ServerConfig, log *zap.Logger) (*transport.Dialer, error) {
	if server.TokenSecret == "" {
		return transport.NewDialer(nil, log.Named("transport")), nil
	}

	deviceID := server.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	signer, err := auth.NewTokenSigner(server.TokenSecret, server.TokenTTL)
	if err != nil {
		return nil, err
	}
	log.Info("Handshake tokens enabled",
		zap.String("deviceID", deviceID),
		zap.Duration("tokenTTL", server.TokenTTL))
	return transport.NewDialer(func() (http.Header, error) {
		return signer.HandshakeHeader(deviceID)
	}, log.Named("transport")), nil
}

func newCaptureDevice(audio config.AudioConfig, loop *eventloop.Loop, log *zap.Logger) repositories.CaptureDevice {
	if audio.Source == config.SourceMicrophone {
		return capture.NewMicrophone(log.Named("microphone"))
	}
	return capture.NewWAVFile(audio.Source, loop.Clock(), log.Named("wavfile"))
}

func newPlayer(audio config.AudioConfig, loop *eventloop.Loop, log *zap.Logger) (repositories.Player, error) {
	if audio.Sink == config.SinkSpeaker {
		return playback.NewSpeaker(entities.AudioFormat{
			SampleRate:    audio.PlaybackSampleRate,
			Channels:      1,
			BitsPerSample: 16,
		}, log.Named("speaker"))
	}
	return playback.NewDirectory(audio.Sink, loop.Clock(), log.Named("directory"))
}

func newDebugServer(sess *session.Session, chat *entities.ChatLog, registry *prometheus.Registry, log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("Request",
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	api.InitRoutes(e, sess, chat, registry, log)
	return e
}
