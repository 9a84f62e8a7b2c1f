// Package main provides a loudness watcher that captures audio from an input device,
// tracks the ambient level and raises alerts for loud events.
//
// Usage:
//
//	levelwatch [-config path/to/config.json] [-debug]
//
// If -config is not specified, levelwatch looks for config.json in the same
// directory as the binary.
package main

import (
	"cmp"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/oszuidwest/zwfm-levelwatch/internal/audio"
	"github.com/oszuidwest/zwfm-levelwatch/internal/config"
	"github.com/oszuidwest/zwfm-levelwatch/internal/eventlog"
	"github.com/oszuidwest/zwfm-levelwatch/internal/monitor"
	"github.com/oszuidwest/zwfm-levelwatch/internal/notify"
	"github.com/oszuidwest/zwfm-levelwatch/internal/publish"
	"github.com/oszuidwest/zwfm-levelwatch/internal/server"
	"github.com/oszuidwest/zwfm-levelwatch/internal/util"
)

const mqttStartupTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	eventPath := cmp.Or(snap.EventLogPath, eventlog.DefaultLogPath(snap.WebPort))
	events, err := eventlog.NewLogger(eventPath)
	if err != nil {
		slog.Error("failed to open event log", "path", eventPath, "error", err)
		os.Exit(1)
	}

	metrics := publish.NewMetrics()
	notifier := notify.NewAlertNotifier(cfg)
	publishers := publish.Multi{events, metrics, notifier}

	var mqttPub *publish.MQTT
	if snap.HasMQTT() {
		mqttPub = publish.NewMQTT(publish.MQTTConfig{
			Broker:      snap.MQTTBroker,
			ClientID:    snap.MQTTClientID,
			Username:    snap.MQTTUsername,
			Password:    snap.MQTTPassword,
			TopicPrefix: snap.MQTTTopicPrefix,
			Serial:      snap.Serial,
			QoS:         snap.MQTTQoS,
		})
		ctx, cancel := context.WithTimeout(context.Background(), mqttStartupTimeout)
		if err := mqttPub.Connect(ctx); err != nil {
			slog.Warn("mqtt broker not reachable yet, retrying in background", "broker", snap.MQTTBroker, "error", err)
		}
		cancel()
		publishers = append(publishers, mqttPub)
	}

	var dbusPub *publish.DBus
	if snap.DBusEnabled {
		if dbusPub, err = publish.NewDBus(snap.DBusBus); err != nil {
			slog.Warn("d-bus signals disabled", "error", err)
		} else {
			publishers = append(publishers, dbusPub)
		}
	}

	capture := audio.NewCapture(audio.CaptureConfig{
		Device:     snap.AudioDevice,
		SampleRate: snap.AudioSampleRate,
		Channels:   snap.AudioChannels,
		Backend:    snap.AudioBackend,
	})

	mon := monitor.New(cfg, capture, publishers,
		monitor.WithEventRecorder(events),
		monitor.WithDeviceName(cmp.Or(snap.AudioDevice, "default")),
		monitor.WithIntervalHandler(func(_, current int) { metrics.SetInterval(current) }),
		monitor.WithResetHandler(notifier.Reset),
	)
	metrics.SetInterval(mon.Interval())

	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	if err := mon.Start(ctx); err != nil {
		slog.Error("failed to start level monitor", "error", err)
		os.Exit(1)
	}

	version := NewVersionChecker()
	commands := server.NewCommandHandler(cfg, mon, notifier, eventPath)
	srv := NewServer(cfg, commands, metrics.Handler(), version)
	httpServer := srv.Start()

	<-ctx.Done()
	slog.Info("shutting down")

	version.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := mon.Stop(); err != nil {
		slog.Warn("level monitor did not stop cleanly", "error", err)
	}

	notifier.Wait()

	if mqttPub != nil {
		if err := mqttPub.Close(); err != nil {
			slog.Warn("error closing mqtt connection", "error", err)
		}
	}
	if dbusPub != nil {
		if err := dbusPub.Close(); err != nil {
			slog.Warn("error closing d-bus connection", "error", err)
		}
	}
	if err := events.Close(); err != nil {
		slog.Warn("error closing event log", "error", err)
	}

	slog.Info("shutdown complete")
}
