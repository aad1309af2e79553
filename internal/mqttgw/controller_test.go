package mqttgw

import (
	"sync"
	"testing"
	"time"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/broker"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/canframe"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/gwconfig"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []canframe.Frame
}

func (s *fakeSender) Send(f canframe.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, f)
	return nil
}

func (s *fakeSender) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSender) last() canframe.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

func newTestController(t *testing.T, cfg gwconfig.Controller) (*Controller, *fakeSender, *broker.MemoryClient) {
	t.Helper()
	sender := &fakeSender{}
	client := broker.NewMemoryClient()
	c, err := NewController(cfg, sender, client, nil, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c, sender, client
}

func requestFrame(t *testing.T, programType, programID, functionID uint8, payload []byte) canframe.Frame {
	t.Helper()
	h := canframe.Header{ProgramType: programType, ProgramID: programID, FunctionID: functionID, MessageType: canframe.Request}
	f, err := canframe.New(h, payload)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestControllerClaimsFramesAddressedToItByProgramID(t *testing.T) {
	cfg := gwconfig.Controller{ControllerID: 5}
	c, _, _ := newTestController(t, cfg)

	f := requestFrame(t, canframe.ProgramTypeController, 5, canframe.FuncIAmHere, nil)
	if !c.Handle(f) {
		t.Fatal("expected controller to claim frame addressed to its program id")
	}
}

func TestControllerIgnoresFramesForOtherControllers(t *testing.T) {
	cfg := gwconfig.Controller{ControllerID: 5}
	c, _, _ := newTestController(t, cfg)

	f := requestFrame(t, canframe.ProgramTypeController, 6, canframe.FuncIAmHere, nil)
	if c.Handle(f) {
		t.Fatal("controller should not claim a frame addressed to a different id")
	}
}

func TestControllerRespondsToChannelNumber(t *testing.T) {
	cfg := gwconfig.Controller{ControllerID: 5, Parameters: []gwconfig.Parameter{
		{Channel: "dev/ctl", ProgramType: 5, ParameterID: 1, ParameterIndex: 0},
	}}
	c, sender, _ := newTestController(t, cfg)
	c.Start()
	defer c.Stop()

	f := requestFrame(t, canframe.ProgramTypeController, 5, canframe.FuncGetChannelNumber, nil)
	c.Handle(f)

	waitForSend(t, sender, 1)
	resp := sender.last()
	if resp.Header().MessageType != canframe.Response {
		t.Fatal("expected a RESPONSE frame")
	}
	count := int(resp.Payload()[0]) | int(resp.Payload()[1])<<8
	if count != 1 {
		t.Fatalf("channel count = %d, want 1", count)
	}
}

func TestControllerRespondsToControllerType(t *testing.T) {
	cfg := gwconfig.Controller{ControllerID: 5}
	c, sender, _ := newTestController(t, cfg)
	c.Start()
	defer c.Stop()

	f := requestFrame(t, canframe.ProgramTypeController, 5, canframe.FuncGetControllerType, nil)
	c.Handle(f)

	waitForSend(t, sender, 1)
	resp := sender.last()
	if resp.Payload()[0] != canframe.ControllerTypeExtended {
		t.Fatalf("controller type = %d, want %d", resp.Payload()[0], canframe.ControllerTypeExtended)
	}
}

func TestControllerRespondsToGetParameterValue(t *testing.T) {
	cfg := gwconfig.Controller{ControllerID: 5, Parameters: []gwconfig.Parameter{
		{Channel: "dev/setpoint", ProgramType: canframe.ProgramTypeController, ParameterID: 1, ParameterIndex: 0, ValueTimeoutMin: -1},
	}}
	c, sender, client := newTestController(t, cfg)
	client.EnsureDevice("dev", "dev").EnsureControl("setpoint", broker.ControlMeta{}).SetValue("21.5")
	c.Start()
	defer c.Stop()

	payload := []byte{canframe.ProgramTypeController, 1, 0} // program_type, parameter_id, index
	f := requestFrame(t, canframe.ProgramTypeRemoteControl, 5, canframe.FuncGetParameterValue, payload)
	c.Handle(f)

	waitForSend(t, sender, 1)
	resp := sender.last()
	got := resp.Payload()
	if len(got) != 5 {
		t.Fatalf("response payload length = %d, want 5", len(got))
	}
	if got[0] != canframe.ProgramTypeController || got[1] != 1 || got[2] != 0 {
		t.Fatalf("response key = %v, want [11 1 0]", got[:3])
	}
	value := int16(uint16(got[3]) | uint16(got[4])<<8)
	if value != 215 {
		t.Fatalf("decoded value = %d, want 215 (21.5 * 10)", value)
	}
}

func TestControllerRespondsWithSensorUndefinedForUnmappedParameter(t *testing.T) {
	cfg := gwconfig.Controller{ControllerID: 5}
	c, sender, _ := newTestController(t, cfg)
	c.Start()
	defer c.Stop()

	payload := []byte{canframe.ProgramTypeController, 9, 0}
	f := requestFrame(t, canframe.ProgramTypeRemoteControl, 5, canframe.FuncGetParameterValue, payload)
	c.Handle(f)

	waitForSend(t, sender, 1)
	resp := sender.last()
	got := resp.Payload()
	value := int16(uint16(got[3]) | uint16(got[4])<<8)
	if value != canframe.SensorUndefined {
		t.Fatalf("value = %d, want SENSOR_UNDEFINED", value)
	}
}

func TestControllerSendsNoResponseForUnsupportedParameterProgramType(t *testing.T) {
	cfg := gwconfig.Controller{ControllerID: 5}
	c, sender, _ := newTestController(t, cfg)
	c.Start()
	defer c.Stop()

	// payload's embedded program_type (9) is not PT_CONTROLLER: per spec
	// the request is logged and silently dropped, not answered.
	payload := []byte{9, 9, 0}
	f := requestFrame(t, canframe.ProgramTypeRemoteControl, 5, canframe.FuncGetParameterValue, payload)
	if !c.Handle(f) {
		t.Fatal("expected frame addressed to this controller id to still be claimed")
	}

	// Give the worker goroutine a moment to process the frame, then assert
	// nothing was sent.
	time.Sleep(50 * time.Millisecond)
	if sender.len() != 0 {
		t.Fatalf("sent frame count = %d, want 0 for unsupported program type", sender.len())
	}
}

func TestSensorAliasesIntoOutputSlot(t *testing.T) {
	cfg := gwconfig.Controller{ControllerID: 5, Sensors: []gwconfig.Sensor{
		{Channel: "dev/roomTemperature", SensorIndex: 1},
	}}
	c, _, _ := newTestController(t, cfg)
	if c.outputs[0] == nil || c.outputs[0].channel != "dev/roomTemperature" {
		t.Fatalf("sensor 1 should alias into outputs[0], got %+v", c.outputs[0])
	}
}

func TestGetOutputValueSchedulesBroadcast(t *testing.T) {
	cfg := gwconfig.Controller{ControllerID: 5, Outputs: []gwconfig.Output{
		{Channel: "dev/relay", OutputIndex: 0},
	}}
	c, sender, client := newTestController(t, cfg)
	client.EnsureDevice("dev", "dev").EnsureControl("relay", broker.ControlMeta{}).SetValue("1.0")
	c.Start()
	defer c.Stop()

	mp := canframe.MappingPoint{HostID: 5, ChannelID: 0}
	payload := mp.Encode()
	f := requestFrame(t, canframe.ProgramTypeController, 5, canframe.FuncGetOutputValue, payload[:])
	if !c.Handle(f) {
		t.Fatal("expected GET_OUTPUT_VALUE to be claimed")
	}

	waitForSend(t, sender, 1)
	resp := sender.last()
	if resp.Header().FunctionID != canframe.FuncGetOutputValue {
		t.Fatalf("unexpected function id in broadcast: %d", resp.Header().FunctionID)
	}
	if len(resp.Payload()) != 4 {
		t.Fatalf("broadcast payload length = %d, want 4", len(resp.Payload()))
	}
}

func waitForPushUpdate(t *testing.T, m *paramMapping) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		got := !m.lastUpdate.IsZero()
		m.mu.Unlock()
		if got {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for broker value-change push to reach the parameter mapping")
}

func TestParameterValueExpiresAfterValueTimeoutMin(t *testing.T) {
	cfg := gwconfig.Controller{ControllerID: 5, Parameters: []gwconfig.Parameter{
		{Channel: "dev/setpoint", ProgramType: canframe.ProgramTypeController, ParameterID: 1, ParameterIndex: 0, ValueTimeoutMin: 1},
	}}
	c, sender, client := newTestController(t, cfg)
	c.Start()
	defer c.Stop()

	client.EnsureDevice("dev", "dev").EnsureControl("setpoint", broker.ControlMeta{}).SetValue("21.5")

	raw := canframe.PackRawInfo(canframe.ProgramTypeController, 1, 0)
	mapping := c.params[raw]
	waitForPushUpdate(t, mapping)

	// Force the mapping's clock back past the 1-minute window, as if the
	// value-change event had arrived 61 seconds ago.
	mapping.mu.Lock()
	mapping.lastUpdate = time.Now().Add(-61 * time.Second)
	mapping.mu.Unlock()

	payload := []byte{canframe.ProgramTypeController, 1, 0}
	f := requestFrame(t, canframe.ProgramTypeRemoteControl, 5, canframe.FuncGetParameterValue, payload)
	c.Handle(f)

	waitForSend(t, sender, 1)
	resp := sender.last()
	got := resp.Payload()
	value := int16(uint16(got[3]) | uint16(got[4])<<8)
	if value != canframe.SensorUndefined {
		t.Fatalf("value = %d, want SENSOR_UNDEFINED after value_timeout_min expiry", value)
	}
}

func waitForSend(t *testing.T, s *fakeSender, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.len() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sent frame(s), got %d", n, s.len())
}
