package swgw

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/broker"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/busport"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/classreg"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/metrics"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/scheduler"
)

// DefaultPollInterval is used when configuration leaves poll_interval_ms
// at zero (spec.md §4.7: "a periodic task (default 500 ms)").
const DefaultPollInterval = 500 * time.Millisecond

// Gateway is the single SmartWeb→MQTT gateway: one per process, discovering
// every program on the bus regardless of controller_id (spec.md §4.8: "one
// SW→MQTT gateway").
type Gateway struct {
	port    busport.Port
	client  broker.Client
	classes *classreg.Registry
	logger  *logrus.Entry
	mx      *metrics.Registry

	reg      *registry
	requests *requestList
	writes   *writeTargets
	sched    *scheduler.Scheduler
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Gateway against classes, ready to register on port once
// Start is called. interval <= 0 selects DefaultPollInterval.
func New(classes *classreg.Registry, port busport.Port, client broker.Client, interval time.Duration, logger *logrus.Entry, mx *metrics.Registry) *Gateway {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Gateway{
		port:     port,
		client:   client,
		classes:  classes,
		logger:   logger.WithField("gateway", "swgw"),
		mx:       mx,
		reg:      newRegistry(),
		requests: newRequestList(),
		writes:   newWriteTargets(),
		sched:    scheduler.New(),
		interval: interval,
	}
}

// Start registers the gateway as a bus handler, launches the polling
// scheduler, and starts draining broker writes.
func (g *Gateway) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel

	g.port.AddHandler(g)
	g.sched.Start()
	g.sched.AddTask(&scheduler.FuncTask{Due: time.Now(), Period: g.interval, Fn: g.pollOnce})

	g.wg.Add(1)
	go g.runWrites(ctx)
}

// Stop deregisters the handler, stops the scheduler, waits for the write
// loop to exit, then removes every broker device the gateway created
// (spec.md §4.7: "remove every device the gateway created; the registry
// and codecs are released last").
func (g *Gateway) Stop() {
	g.port.RemoveHandler(g)
	g.sched.Stop()
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()

	for _, p := range g.reg.all() {
		g.client.RemoveDevice(p.deviceID)
	}
}

func (g *Gateway) pollOnce(now time.Time) {
	entry, ok := g.requests.next()
	if !ok {
		return
	}
	f, err := entry.frame()
	if err != nil {
		g.logger.WithError(err).Error("swgw: build poll request frame")
		return
	}
	if err := g.port.Send(f); err != nil {
		g.logger.WithError(err).Warn("swgw: send poll request")
		return
	}
	if g.mx != nil {
		g.mx.FramesSent.WithLabelValues("remote_control").Inc()
		g.mx.PollQueueDepth.Set(float64(g.requests.len()))
	}
}
