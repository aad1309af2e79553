package swgw

import (
	"sync"
	"testing"
	"time"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/broker"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/busport"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/canframe"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/classreg"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/metrics"
)

type fakePort struct {
	mu   sync.Mutex
	sent []canframe.Frame
}

func (p *fakePort) AddHandler(h busport.Handler)    {}
func (p *fakePort) RemoveHandler(h busport.Handler) {}
func (p *fakePort) SetMetrics(mx *metrics.Registry) {}
func (p *fakePort) Close() error                    { return nil }

func (p *fakePort) Send(f canframe.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, f)
	return nil
}

func (p *fakePort) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *fakePort) last() canframe.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent[len(p.sent)-1]
}

func newTestGateway(t *testing.T) (*Gateway, *fakePort, *broker.MemoryClient) {
	t.Helper()
	reg, err := classreg.Load("")
	if err != nil {
		t.Fatalf("classreg.Load: %v", err)
	}
	port := &fakePort{}
	client := broker.NewMemoryClient()
	g := New(reg, port, client, 0, nil, nil)
	return g, port, client
}

func iAmProgramFrame(t *testing.T, programID, classType uint8) canframe.Frame {
	t.Helper()
	h := canframe.Header{ProgramType: canframe.ProgramTypeProgram, ProgramID: programID, FunctionID: canframe.FuncIAmProgram, MessageType: canframe.Response}
	f, err := canframe.New(h, []byte{0, 0, classType})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func pollResponseFrame(t *testing.T, programID uint8, payload []byte) canframe.Frame {
	t.Helper()
	h := canframe.Header{ProgramType: canframe.ProgramTypeRemoteControl, ProgramID: programID, FunctionID: canframe.FuncGetParameterValue, MessageType: canframe.Response}
	f, err := canframe.New(h, payload)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestDiscoveryRegistersProgramAndEnqueuesRequests(t *testing.T) {
	g, _, client := newTestGateway(t)

	if !g.Handle(iAmProgramFrame(t, 10, 5)) {
		t.Fatal("expected I_AM_PROGRAM to be claimed")
	}

	prog, ok := g.reg.get(10)
	if !ok {
		t.Fatal("expected program 10 to be registered")
	}
	if prog.class.Name != "ROOM_DEVICE" {
		t.Fatalf("class = %q, want ROOM_DEVICE", prog.class.Name)
	}
	if prog.deviceID != "sw ROOM_DEVICE 10" {
		t.Fatalf("deviceID = %q", prog.deviceID)
	}
	if client.Device("sw ROOM_DEVICE 10") == nil {
		t.Fatal("expected broker device to exist")
	}

	// 1 input + 1 output + 4 own parameters + 0 PROGRAM-root parameters.
	if got, want := g.requests.len(), 6; got != want {
		t.Fatalf("request list length = %d, want %d", got, want)
	}
}

func TestDiscoveryIgnoresAlreadyRegisteredProgram(t *testing.T) {
	g, _, _ := newTestGateway(t)
	g.Handle(iAmProgramFrame(t, 10, 5))
	before := g.requests.len()

	g.Handle(iAmProgramFrame(t, 10, 5))
	if g.requests.len() != before {
		t.Fatalf("re-discovery should not re-enqueue requests: before=%d after=%d", before, g.requests.len())
	}
}

func TestDiscoveryIgnoresUnknownClassType(t *testing.T) {
	g, _, _ := newTestGateway(t)
	if !g.Handle(iAmProgramFrame(t, 10, 99)) {
		t.Fatal("an I_AM_PROGRAM frame is always claimed, even for an unknown class type")
	}
	if _, ok := g.reg.get(10); ok {
		t.Fatal("program should not be registered for an unknown class type")
	}
}

func TestPollResponseForInputPublishesDecodedValue(t *testing.T) {
	g, _, client := newTestGateway(t)
	g.Handle(iAmProgramFrame(t, 10, 5))

	// roomTemperature input id=1, sensor16/10 codec: 215 -> "21.5".
	payload := []byte{canframe.ProgramTypeProgram, canframe.ParamSensor, 1, 0xD7, 0x00}
	if !g.Handle(pollResponseFrame(t, 10, payload)) {
		t.Fatal("expected poll response to be claimed")
	}

	ctrl := client.Device("sw ROOM_DEVICE 10").Control("roomTemperature")
	if ctrl == nil {
		t.Fatal("expected roomTemperature control to exist")
	}
	v, fresh := ctrl.Value()
	if !fresh || v != "21.5" {
		t.Fatalf("value = %q fresh=%v, want 21.5/true", v, fresh)
	}
}

func TestPollResponseSensorSentinelSetsReadError(t *testing.T) {
	g, _, client := newTestGateway(t)
	g.Handle(iAmProgramFrame(t, 10, 5))

	undefined := int16(canframe.SensorUndefined)
	payload := []byte{canframe.ProgramTypeProgram, canframe.ParamSensor, 1, byte(undefined), byte(undefined >> 8)}
	g.Handle(pollResponseFrame(t, 10, payload))

	ctrl := client.Device("sw ROOM_DEVICE 10").Control("roomTemperature")
	_, fresh := ctrl.Value()
	if fresh {
		t.Fatal("expected control to be marked stale/errored for the undefined sentinel")
	}
}

func TestPollResponseForOutputPublishesDecodedValue(t *testing.T) {
	g, _, client := newTestGateway(t)
	g.Handle(iAmProgramFrame(t, 10, 5))

	// heatingRelay output id=1, Output codec: nonzero byte -> "1".
	payload := []byte{canframe.ProgramTypeProgram, canframe.ParamOutput, 1, 1}
	g.Handle(pollResponseFrame(t, 10, payload))

	ctrl := client.Device("sw ROOM_DEVICE 10").Control("heatingRelay")
	v, fresh := ctrl.Value()
	if !fresh || v != "1" {
		t.Fatalf("value = %q fresh=%v, want 1/true", v, fresh)
	}
}

func TestWritableParameterResponseRegistersWriteTargetAndWriteSendsSetParameterValue(t *testing.T) {
	g, port, client := newTestGateway(t)
	g.Handle(iAmProgramFrame(t, 10, 5))

	// roomReducedTemperature parameter id=2, short10 signed: 111 -> "11.1".
	payload := []byte{5, 2, 0x6F, 0x00}
	g.Handle(pollResponseFrame(t, 10, payload))

	ctrl := client.Device("sw ROOM_DEVICE 10").Control("roomReducedTemperature")
	if v, _ := ctrl.Value(); v != "11.1" {
		t.Fatalf("value = %q, want 11.1", v)
	}

	g.handleWrite(broker.ValueWrite{DeviceID: "sw ROOM_DEVICE 10", ControlID: "roomReducedTemperature", Value: "18.5"})

	if port.len() != 1 {
		t.Fatalf("sent frame count = %d, want 1", port.len())
	}
	f := port.last()
	h := f.Header()
	if h.ProgramType != canframe.ProgramTypeRemoteControl || h.ProgramID != 10 || h.FunctionID != canframe.FuncSetParameterValue || h.MessageType != canframe.Request {
		t.Fatalf("unexpected header: %+v", h)
	}
	p := f.Payload()
	if len(p) != 4 || p[0] != 5 || p[1] != 2 {
		t.Fatalf("payload = %v, want [5 2 <value...>]", p)
	}
}

func TestReadOnlyParameterResponseDoesNotRegisterWriteTarget(t *testing.T) {
	g, _, _ := newTestGateway(t)
	g.Handle(iAmProgramFrame(t, 10, 5))

	// roomTemperatureSetpoint parameter id=1 is read-only.
	payload := []byte{5, 1, 0x00, 0x00}
	g.Handle(pollResponseFrame(t, 10, payload))

	if _, ok := g.writes.get("sw ROOM_DEVICE 10", "roomTemperatureSetpoint"); ok {
		t.Fatal("read-only parameter must not register a write target")
	}
}

func TestPollOnceSendsRequestsRoundRobin(t *testing.T) {
	g, port, _ := newTestGateway(t)
	g.Handle(iAmProgramFrame(t, 10, 5))
	total := g.requests.len()

	now := time.Now()
	for i := 0; i < total+2; i++ {
		g.pollOnce(now)
	}
	if port.len() != total+2 {
		t.Fatalf("sent frame count = %d, want %d", port.len(), total+2)
	}
	// The (total+1)th send should repeat the very first request's payload.
	first := port.sent[0].Payload()
	wrapped := port.sent[total].Payload()
	if string(first) != string(wrapped) {
		t.Fatalf("round-robin did not wrap: first=%v wrapped=%v", first, wrapped)
	}
}

func TestStopRemovesEveryDiscoveredDevice(t *testing.T) {
	g, _, client := newTestGateway(t)
	g.Handle(iAmProgramFrame(t, 10, 5))
	g.Handle(iAmProgramFrame(t, 11, 5))

	g.Stop()

	if client.Device("sw ROOM_DEVICE 10") != nil || client.Device("sw ROOM_DEVICE 11") != nil {
		t.Fatal("expected both devices to be removed on Stop")
	}
}
