package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"i4.energy/across/modemd/modem"
	"i4.energy/across/modemd/notify"
	"i4.energy/across/modemd/session"
	"i4.energy/across/modemd/sms"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("sim-pin", "", "SIM card PIN code (if required)")
	flag.String("vendor", "", "Modem family (generic, cinterion, linktop, sierra)")
	flag.String("vendor-id", "", "USB vendor ID of the modem, e.g. 0x1e2d")
	flag.Duration("at-timeout", 5*time.Second, "Default AT command timeout")
	flag.String("mqtt-broker", "", "MQTT broker URL for message events (optional)")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configPath), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Modem daemon failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Modem daemon stopped")
}

func run(ctx context.Context, config *Config, logger *slog.Logger) error {
	modemConfig, err := modem.NewConfigBuilder().
		WithATTimeout(config.ATTimeout).
		WithInitTimeout(30 * time.Second).
		WithLogger(logger.With("component", "modem")).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		Build()
	if err != nil {
		return fmt.Errorf("create modem config: %w", err)
	}

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		return fmt.Errorf("create modem: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.Loop(ctx)
	})

	// The list exists before Attach so stored messages reach every listener.
	messages := sms.NewList(logger.With("component", "sms"))
	var attached atomic.Pointer[session.Session]

	if config.MQTT.Broker != "" {
		client, err := notify.Connect(ctx, notify.Options{
			Broker:    config.MQTT.Broker,
			ClientID:  config.MQTT.ClientID,
			Username:  config.MQTT.Username,
			Password:  config.MQTT.Password,
			SendTopic: config.MQTT.SendTopic,
		}, attachedSender(&attached), logger.With("component", "mqtt"))
		if err != nil {
			logger.Error("MQTT disabled", "error", err)
		} else {
			notifier := notify.NewNotifier(client, config.MQTT.EventTopic, messages, logger.With("component", "notify"))
			messages.Subscribe(notifier.Handle)
		}
	}

	sess, err := session.Attach(ctx, m, session.Config{
		Vendor:   config.Vendor,
		VendorID: config.VendorID,
		PIN:      config.SimPIN,
		SIMPoll: session.PollConfig{
			Interval:   time.Second,
			Timeout:    30 * time.Second,
			MaxRetries: 30,
		},
		Listeners: []sms.Listener{logEvents(logger.With("component", "events"))},
		Messages:  messages,
		Logger:    logger,
	})
	if err != nil {
		m.Close()
		_ = g.Wait()
		return fmt.Errorf("attach modem: %w", err)
	}
	attached.Store(sess)
	logger.Info("Starting modem daemon", "vendor", sess.Vendor(), "port", config.SerialPort)

	g.Go(func() error {
		return pumpURCs(ctx, m, sess, logger)
	})

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:  logger.With("component", "server"),
			Session: sess,
		},
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.Info("Closing HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to gracefully shutdown server", "error", err)
		}

		sess.Detach()

		logger.Info("Closing modem connection")
		if err := m.Close(); err != nil && !errors.Is(err, modem.ErrAlreadyClosed) {
			logger.Error("Failed to close modem", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// pumpURCs feeds unsolicited results into the session until ctx ends or the
// modem stops delivering them.
func pumpURCs(ctx context.Context, m *modem.Modem, sess *session.Session, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case urc, ok := <-m.URC():
			if !ok {
				return nil
			}
			if err := sess.HandleURC(ctx, urc); err != nil {
				logger.Warn("Failed to handle URC", "urc", urc, "error", err)
			}
		}
	}
}

var errNotAttached = errors.New("modem not attached yet")

// attachedSender sends through the session once it is stored in p.
func attachedSender(p *atomic.Pointer[session.Session]) notify.Sender {
	return notify.SenderFunc(func(ctx context.Context, number, text string) ([]int, error) {
		sess := p.Load()
		if sess == nil {
			return nil, errNotAttached
		}
		return sess.SendMessage(ctx, number, text)
	})
}

func logEvents(logger *slog.Logger) sms.Listener {
	return func(e sms.Event) {
		logger.Info("Message event", "event", e.Kind, "id", e.ID, "received", e.Received)
	}
}
