// dv-server runs a Driver Validation server on a Linux host: the USART
// command server on a serial port, or the socket test server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dvserver/core"
	"dvserver/host/config"
	"dvserver/host/gpio"
	"dvserver/host/serial"
	"dvserver/metrics"
	"dvserver/sockserver"
)

var (
	configPath  = flag.String("config", "", "YAML configuration file")
	server      = flag.String("server", "", "Server to run (usart, sock)")
	device      = flag.String("device", "", "Serial device of the USART server")
	baud        = flag.Int("baud", 0, "Command baud rate of the USART server")
	bind        = flag.String("bind", "", "Listen address of the socket server")
	metricsAddr = flag.String("metrics-bind-address", "", "The address the metric endpoint binds to")
	verbosity   = flag.Int("v", -1, "Log verbosity (0 info, 1 per command, 2 per line)")
	development = flag.Bool("development", false, "Human readable console logging")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log, flush, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, log)
	}

	switch cfg.Server {
	case config.ServerUSART:
		err = runUSART(ctx, cfg, log)
	case config.ServerSock:
		err = sockserver.New(cfg.SockServer(log)).Run(ctx)
	}
	if err != nil {
		log.Error(err, "Server failed")
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, if any, and applies the flags on
// top of it
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}

	if *server != "" {
		cfg.Server = *server
	}
	if *device != "" {
		cfg.USART.Device = *device
	}
	if *baud > 0 {
		cfg.USART.Baud = *baud
	}
	if *bind != "" {
		cfg.Sock.Bind = *bind
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *verbosity >= 0 {
		cfg.LogLevel = *verbosity
	}
	if *development {
		cfg.Development = true
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) (logr.Logger, func(), error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	// logr V(n) maps to zap level -n
	zc.Level = zap.NewAtomicLevelAt(zapcore.Level(-cfg.LogLevel))

	zl, err := zc.Build()
	if err != nil {
		return logr.Discard(), func() {}, fmt.Errorf("failed to build logger: %w", err)
	}
	return zapr.NewLogger(zl), func() { zl.Sync() }, nil
}

func serveMetrics(addr string, log logr.Logger) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics.Register(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		log.Info("Serving metrics", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Metrics endpoint failed")
		}
	}()
}

func runUSART(ctx context.Context, cfg *config.Config, log logr.Logger) error {
	var pins core.PinDriver
	if cfg.HasPins() {
		p, err := gpio.OpenPins(cfg.PinMap())
		if err != nil {
			return err
		}
		defer p.Close()
		pins = p
	}

	var ind core.Indicator
	if cfg.HasLEDs() {
		leds, err := gpio.OpenLEDs(cfg.PinMap(), log)
		if err != nil {
			return err
		}
		defer leds.Close()
		ind = leds
	}

	drv := serial.NewUSART(cfg.USART.Device)
	s := core.NewUSARTServer(drv, pins, cfg.Options(log, ind))
	s.SetCommandBaudrate(uint32(cfg.USART.Baud))

	log.Info("USART server", "version", s.Version(), "device", cfg.USART.Device, "baud", cfg.USART.Baud)
	return s.Run(ctx)
}
