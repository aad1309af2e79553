// Package mqttgw is the MQTT→SmartWeb Gateway (spec.md §4.6): one worker
// per configured virtual controller, serving CAN requests addressed to it
// and pushing broker-sourced values onto the bus as SmartWeb output
// broadcasts.
package mqttgw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/broker"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/canframe"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/gwconfig"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/metrics"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/valuecodec"
)

type connState int

const (
	stateIdle connState = iota
	stateRunning
)

const (
	iAmHerePeriod        = 10 * time.Second
	connectionTimeout    = 10 * time.Minute
	frameQueueDepth      = 32
	workerIdleTimeout    = time.Second
	outputBroadcastEvery = time.Second
)

// Controller is one virtual SmartWeb controller.
type Controller struct {
	id     uint8
	cfg    gwconfig.Controller
	port   busSender
	client broker.Client
	logger *logrus.Entry
	mx     *metrics.Registry

	frames chan canframe.Frame

	mu                  sync.Mutex
	state               connState
	sendIAmHereTime     time.Time
	resetConnectionTime time.Time

	params   map[canframe.RawInfo]*paramMapping
	outputs  [32]*outputSlot
	watchers map[string][]valueTarget

	done         chan struct{}
	cancelValues context.CancelFunc
	wg           sync.WaitGroup
}

// busSender is the subset of busport.Port a controller needs; narrowed so
// tests can supply a minimal fake.
type busSender interface {
	Send(f canframe.Frame) error
}

// valueTarget receives a broker value-change push event; *paramMapping and
// *outputSlot both satisfy it via the promoted freshValue.applyChange.
type valueTarget interface {
	applyChange(v string, now time.Time)
}

// valueKey identifies a device/control pair in the watchers table.
func valueKey(deviceID, controlID string) string {
	return deviceID + "\x00" + controlID
}

// watch registers t to receive push updates for deviceID/controlID.
func (c *Controller) watch(deviceID, controlID string, t valueTarget) {
	key := valueKey(deviceID, controlID)
	c.watchers[key] = append(c.watchers[key], t)
}

// NewController builds the parameter and output-broadcast tables for one
// configured virtual controller. Sensor entries are aliased into
// outputs[sensor_index-1], per spec.md §6's sensor/output aliasing rule.
func NewController(cfg gwconfig.Controller, port busSender, client broker.Client, logger *logrus.Entry, mx *metrics.Registry) (*Controller, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Controller{
		id:       cfg.ControllerID,
		cfg:      cfg,
		port:     port,
		client:   client,
		logger:   logger.WithField("controller_id", cfg.ControllerID),
		mx:       mx,
		frames:   make(chan canframe.Frame, frameQueueDepth),
		params:   make(map[canframe.RawInfo]*paramMapping),
		watchers: make(map[string][]valueTarget),
		done:     make(chan struct{}),
	}

	for _, p := range cfg.Parameters {
		deviceID, controlID, err := splitChannel(p.Channel)
		if err != nil {
			return nil, err
		}
		raw := canframe.PackRawInfo(p.ProgramType, p.ParameterID, p.ParameterIndex)
		if _, dup := c.params[raw]; dup {
			return nil, fmt.Errorf("mqttgw: controller %d: duplicate parameter mapping key %#x", c.id, raw)
		}
		ctl := client.EnsureDevice(deviceID, deviceID).EnsureControl(controlID, broker.ControlMeta{DisplayType: "value", ReadOnly: true})
		pm := &paramMapping{rawInfo: raw, freshValue: freshValue{control: ctl, valueTimeoutMin: p.ValueTimeoutMin}}
		c.params[raw] = pm
		c.watch(deviceID, controlID, pm)
	}

	for _, o := range cfg.Outputs {
		if o.OutputIndex > 31 {
			return nil, fmt.Errorf("mqttgw: controller %d: output_index %d out of range", c.id, o.OutputIndex)
		}
		if c.outputs[o.OutputIndex] != nil {
			return nil, fmt.Errorf("mqttgw: controller %d: duplicate output channel id %d", c.id, o.OutputIndex)
		}
		deviceID, controlID, err := splitChannel(o.Channel)
		if err != nil {
			return nil, err
		}
		ctl := client.EnsureDevice(deviceID, deviceID).EnsureControl(controlID, broker.ControlMeta{DisplayType: "value", ReadOnly: true})
		slot := &outputSlot{channel: o.Channel, freshValue: freshValue{control: ctl, valueTimeoutMin: o.ValueTimeoutMin}}
		c.outputs[o.OutputIndex] = slot
		c.watch(deviceID, controlID, slot)
	}
	for _, s := range cfg.Sensors {
		if s.SensorIndex == 0 || s.SensorIndex > 32 {
			return nil, fmt.Errorf("mqttgw: controller %d: sensor_index %d out of range", c.id, s.SensorIndex)
		}
		slotIndex := s.SensorIndex - 1
		if c.outputs[slotIndex] != nil {
			return nil, fmt.Errorf("mqttgw: controller %d: sensor %d aliases already-used output channel %d", c.id, s.SensorIndex, slotIndex)
		}
		deviceID, controlID, err := splitChannel(s.Channel)
		if err != nil {
			return nil, err
		}
		ctl := client.EnsureDevice(deviceID, deviceID).EnsureControl(controlID, broker.ControlMeta{DisplayType: "value", ReadOnly: true})
		slot := &outputSlot{channel: s.Channel, freshValue: freshValue{control: ctl, valueTimeoutMin: s.ValueTimeoutMin}}
		c.outputs[slotIndex] = slot
		c.watch(deviceID, controlID, slot)
	}

	return c, nil
}

// Handle implements busport.Handler: it claims frames addressed to this
// controller (by program_id, or by a GET_OUTPUT_VALUE mapping-point whose
// host_id matches) and queues them for the worker goroutine.
func (c *Controller) Handle(f canframe.Frame) bool {
	h := f.Header()
	if !c.isFrameForMe(h, f) {
		return false
	}
	select {
	case c.frames <- f:
	default:
		if c.mx != nil {
			c.mx.FramesDropped.WithLabelValues("controller_queue_full").Inc()
		}
	}
	return true
}

func (c *Controller) isFrameForMe(h canframe.Header, f canframe.Frame) bool {
	if h.ProgramID == c.id {
		return true
	}
	if h.ProgramType == canframe.ProgramTypeController && h.MessageType == canframe.Request && h.FunctionID == canframe.FuncGetOutputValue {
		payload := f.Payload()
		if len(payload) >= 2 {
			var b [2]byte
			copy(b[:], payload[:2])
			return canframe.DecodeMappingPoint(b).HostID == c.id
		}
	}
	return false
}

// Start launches the controller's worker goroutine and, when a broker
// client is available, the value-change subscription goroutine that keeps
// parameter and output mappings fresh (spec.md §4.6).
func (c *Controller) Start() {
	now := time.Now()
	c.mu.Lock()
	c.state = stateIdle
	c.sendIAmHereTime = now
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()

	if c.client != nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancelValues = cancel
		c.wg.Add(1)
		go c.watchValues(ctx)
	}
}

// Stop signals the worker (and value-subscription, if running) to exit and
// waits for both.
func (c *Controller) Stop() {
	close(c.done)
	if c.cancelValues != nil {
		c.cancelValues()
	}
	c.wg.Wait()
}

// watchValues consumes broker value-change events and pushes them into any
// registered paramMapping/outputSlot, refreshing last_update_time without
// waiting for a CAN request to arrive (_examples/original_source/src/
// MqttToSmartWebGateway.cpp:207-211 wires the same event for the same
// reason).
func (c *Controller) watchValues(ctx context.Context) {
	defer c.wg.Done()
	for change := range c.client.SubscribeValues(ctx) {
		now := time.Now()
		for _, t := range c.watchers[valueKey(change.DeviceID, change.ControlID)] {
			t.applyChange(change.Value, now)
		}
	}
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case f := <-c.frames:
			c.onFrameForMe()
			c.dispatch(f)
			c.tick()
		case <-time.After(workerIdleTimeout):
			c.tick()
		}
	}
}

func (c *Controller) onFrameForMe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateIdle {
		c.logger.Info("mqttgw: controller connection established")
		c.state = stateRunning
	}
	c.resetConnectionTime = time.Now().Add(connectionTimeout)
}

// tick runs the per-iteration scheduled work: IDLE keep-alive announcement,
// RUNNING timeout check, and output broadcasts.
func (c *Controller) tick() {
	now := time.Now()
	c.mu.Lock()
	state := c.state
	sendIAmHere := !now.Before(c.sendIAmHereTime)
	c.mu.Unlock()

	if state == stateIdle && sendIAmHere {
		c.sendIAmHere()
		c.mu.Lock()
		c.sendIAmHereTime = now.Add(iAmHerePeriod)
		c.mu.Unlock()
	}
	if state == stateRunning {
		c.mu.Lock()
		timedOut := now.After(c.resetConnectionTime)
		c.mu.Unlock()
		if timedOut {
			c.mu.Lock()
			c.state = stateIdle
			c.sendIAmHereTime = now
			c.mu.Unlock()
			c.logger.Info("mqttgw: controller connection timed out")
		}
	}
	c.serviceOutputBroadcasts(now)
}

func (c *Controller) sendIAmHere() {
	h := canframe.Header{
		ProgramType: canframe.ProgramTypeController,
		ProgramID:   c.id,
		FunctionID:  canframe.FuncIAmHere,
		MessageType: canframe.Response,
	}
	f, err := canframe.New(h, []byte{canframe.ControllerTypeExtended})
	if err != nil {
		c.logger.WithError(err).Error("mqttgw: build I_AM_HERE frame")
		return
	}
	if err := c.port.Send(f); err != nil {
		c.logger.WithError(err).Warn("mqttgw: send I_AM_HERE")
	}
}

func (c *Controller) serviceOutputBroadcasts(now time.Time) {
	for idx, slot := range c.outputs {
		if slot == nil {
			continue
		}
		mp, ok := slot.due(now)
		if !ok {
			continue
		}
		value, _ := slot.fresh(now)
		codec := valuecodec.Default()
		be, err := encodeBigEndianValue(codec, value)
		if err != nil {
			c.logger.WithError(err).WithField("output_index", idx).Warn("mqttgw: encode output value")
			continue
		}
		payload := append(mp.Encode()[:], be...)
		h := canframe.Header{
			ProgramType: canframe.ProgramTypeController,
			ProgramID:   c.id,
			FunctionID:  canframe.FuncGetOutputValue,
			MessageType: canframe.Response,
		}
		f, err := canframe.New(h, payload)
		if err != nil {
			c.logger.WithError(err).Error("mqttgw: build output broadcast frame")
			continue
		}
		if err := c.port.Send(f); err != nil {
			c.logger.WithError(err).Warn("mqttgw: send output broadcast")
		}
	}
}

func (c *Controller) dispatch(f canframe.Frame) {
	h := f.Header()
	if h.MessageType != canframe.Request {
		return
	}
	switch {
	case h.ProgramType == canframe.ProgramTypeController && h.FunctionID == canframe.FuncIAmHere:
		c.sendIAmHere()
	case h.ProgramType == canframe.ProgramTypeController && h.FunctionID == canframe.FuncGetChannelNumber:
		c.respondChannelNumber(h)
	case h.ProgramType == canframe.ProgramTypeController && h.FunctionID == canframe.FuncGetControllerType:
		c.respondControllerType(h)
	case h.ProgramType == canframe.ProgramTypeController && h.FunctionID == canframe.FuncGetOutputValue:
		c.scheduleOutputBroadcast(f)
	case h.ProgramType == canframe.ProgramTypeRemoteControl && h.FunctionID == canframe.FuncGetParameterValue:
		c.respondParameterValue(h, f)
	default:
		c.logger.WithFields(logrus.Fields{"program_type": h.ProgramType, "function_id": h.FunctionID}).Debug("mqttgw: unsupported request")
	}
}

func (c *Controller) respondChannelNumber(h canframe.Header) {
	count := len(c.cfg.Parameters)
	if len(c.params) > count {
		count = len(c.params)
	}
	payload := []byte{byte(count), byte(count >> 8)}
	c.respond(h, canframe.FuncGetChannelNumber, payload)
}

func (c *Controller) respondControllerType(h canframe.Header) {
	c.respond(h, canframe.FuncGetControllerType, []byte{canframe.ControllerTypeExtended})
}

func (c *Controller) scheduleOutputBroadcast(f canframe.Frame) {
	payload := f.Payload()
	if len(payload) < 2 {
		return
	}
	var b [2]byte
	copy(b[:], payload[:2])
	mp := canframe.DecodeMappingPoint(b)
	if int(mp.ChannelID) >= len(c.outputs) || c.outputs[mp.ChannelID] == nil {
		c.logger.WithField("channel_id", mp.ChannelID).Debug("mqttgw: GET_OUTPUT_VALUE for unmapped channel")
		return
	}
	c.outputs[mp.ChannelID].schedule(time.Now(), mp)
}

func (c *Controller) respondParameterValue(h canframe.Header, f canframe.Frame) {
	parsed, err := canframe.DecodeIndexedParameter(f.Payload())
	if err != nil {
		return
	}
	if parsed.ProgramType != canframe.ProgramTypeController {
		c.logger.WithField("program_type", parsed.ProgramType).Debug("mqttgw: unsupported program type for GET_PARAMETER_VALUE")
		return
	}
	raw := parsed.RawInfo()
	keyBytes := raw.Bytes()

	mapping, ok := c.params[raw]
	var valueBytes []byte
	if !ok {
		valueBytes = sensorUndefinedLE()
	} else {
		value, fresh := mapping.fresh(time.Now())
		if !fresh {
			valueBytes = sensorUndefinedLE()
		} else if valueBytes, err = valuecodec.Default().Encode(value); err != nil {
			c.logger.WithError(err).Warn("mqttgw: encode parameter value")
			valueBytes = sensorUndefinedLE()
		}
	}

	payload := append(append([]byte{}, keyBytes[:]...), valueBytes...)
	c.respond(h, canframe.FuncGetParameterValue, payload)
}

func (c *Controller) respond(h canframe.Header, functionID uint8, payload []byte) {
	h.FunctionID = functionID
	resp := canframe.AsResponse(h)
	f, err := canframe.New(resp, payload)
	if err != nil {
		c.logger.WithError(err).Error("mqttgw: build response frame")
		return
	}
	if err := c.port.Send(f); err != nil {
		c.logger.WithError(err).Warn("mqttgw: send response")
	}
}
