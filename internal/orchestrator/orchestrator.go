// Package orchestrator is the composition root (spec.md §4.8): it loads
// configuration, wires the Bus Port, the broker client, and both gateways,
// then owns the process lifecycle — a bounded-timeout startup, a signal-
// triggered ordered teardown, and the process exit code.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/broker"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/busport"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/classreg"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/errkind"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/gwconfig"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/metrics"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/mqttgw"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/swgw"
)

// Exit codes (spec.md §6).
const (
	ExitClean   = 0
	ExitFatal   = 1
	ExitTimeout = 1
)

const (
	initTimeout = 60 * time.Second
	stopTimeout = 10 * time.Second
)

// gateway is the lifecycle surface both gateways share.
type gateway interface {
	Start()
	Stop()
}

// Orchestrator owns every long-lived component of one gateway process.
type Orchestrator struct {
	logger *logrus.Entry

	port        busport.Port
	client      broker.Client
	swGateway   *swgw.Gateway
	mqttGateway gateway
	mx          *metrics.Registry
	metricsSrv  *http.Server
}

// New builds an Orchestrator from parsed flags, within initTimeout. Any
// failure along the way is reported as errkind.Fatal and nothing partially
// constructed is left running: the caller should not call Run on error.
func New(flags *gwconfig.Flags, logger *logrus.Entry) (*Orchestrator, error) {
	type result struct {
		o   *Orchestrator
		err error
	}
	done := make(chan result, 1)
	go func() {
		o, err := build(flags, logger)
		done <- result{o, err}
	}()

	select {
	case r := <-done:
		return r.o, r.err
	case <-time.After(initTimeout):
		return nil, errkind.New(errkind.Fatal, "orchestrator.New", "initialization exceeded 60s timeout")
	}
}

func build(flags *gwconfig.Flags, logger *logrus.Entry) (*Orchestrator, error) {
	cfg, err := gwconfig.Load(flags.ConfigPath)
	if err != nil {
		return nil, err
	}

	classes, err := classreg.Load(flags.ConfigPath + ".d/classes")
	if err != nil {
		return nil, errkind.Wrap(errkind.Fatal, "orchestrator.build", err)
	}

	mx := metrics.New()

	port, err := busport.Open(flags.Interface, logger)
	if err != nil {
		return nil, errkind.Wrap(errkind.Fatal, "orchestrator.build", err)
	}
	port.SetMetrics(mx)

	client, err := broker.NewMQTTClient(broker.MQTTConfig{
		Host:        flags.BrokerHost,
		Port:        flags.BrokerPort,
		Username:    flags.Username,
		Password:    flags.Password,
		TopicPrefix: flags.TopicPrefix,
		ClientID:    "wb-mqtt-smartweb",
	}, logger)
	if err != nil {
		port.Close()
		return nil, errkind.Wrap(errkind.Fatal, "orchestrator.build", err)
	}

	pollInterval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	swGateway := swgw.New(classes, port, client, pollInterval, logger, mx)

	mqttGateway, err := mqttgw.New(cfg.Controllers, port, client, logger, mx)
	if err != nil {
		client.Close()
		port.Close()
		return nil, errkind.Wrap(errkind.Fatal, "orchestrator.build", err)
	}

	o := &Orchestrator{
		logger:      logger,
		port:        port,
		client:      client,
		swGateway:   swGateway,
		mqttGateway: mqttGateway,
		mx:          mx,
	}
	if cfg.Debug {
		o.metricsSrv = &http.Server{Addr: ":9090", Handler: mx.Handler()}
	}
	return o, nil
}

// Run starts every component, blocks until an INT/TERM signal arrives, then
// tears everything down in reverse construction order, bounded by
// stopTimeout. It returns the process exit code.
func (o *Orchestrator) Run() int {
	o.swGateway.Start()
	o.mqttGateway.Start()
	if o.metricsSrv != nil {
		go func() {
			if err := o.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				o.logger.WithError(err).Warn("orchestrator: metrics server stopped")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	o.logger.WithField("signal", sig).Info("orchestrator: shutting down")

	return o.stop()
}

// stop runs ordered teardown: gateways first (so no handler pointer is
// left registered on the Bus Port), then the broker client, then the Bus
// Port last (spec.md §5).
func (o *Orchestrator) stop() int {
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.mqttGateway.Stop()
		o.swGateway.Stop()
		if o.metricsSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			_ = o.metricsSrv.Shutdown(ctx)
		}
		if err := o.client.Close(); err != nil {
			o.logger.WithError(err).Warn("orchestrator: broker close")
		}
		if err := o.port.Close(); err != nil {
			o.logger.WithError(err).Warn("orchestrator: bus port close")
		}
	}()

	select {
	case <-done:
		return ExitClean
	case <-time.After(stopTimeout):
		o.logger.Error("orchestrator: teardown exceeded 10s timeout")
		return ExitTimeout
	}
}

// Fatal renders a top-level init error consistently for cmd/wb-mqtt-smartweb,
// which has no logger configured until flags have been parsed.
func Fatal(err error) string {
	return fmt.Sprintf("wb-mqtt-smartweb: %v", err)
}
