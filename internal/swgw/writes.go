package swgw

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/broker"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/canframe"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/valuecodec"
)

// writeTarget is the back-reference a writable parameter's control needs
// to turn a broker value-change event into a SET_PARAMETER_VALUE request
// (spec.md §4.7: "carry back-reference metadata (class pointer + field
// pointer + program id)").
type writeTarget struct {
	programID uint8
	classType uint8
	fieldID   uint8
	codec     valuecodec.Codec
}

// writeTargets is the deviceID/controlID -> writeTarget table, built as
// parameter responses are published and consulted when the broker
// reports a write.
type writeTargets struct {
	mu      sync.Mutex
	targets map[string]writeTarget
}

func newWriteTargets() *writeTargets {
	return &writeTargets{targets: make(map[string]writeTarget)}
}

func writeKey(deviceID, controlID string) string { return deviceID + "\x00" + controlID }

func (t *writeTargets) set(deviceID, controlID string, target writeTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[writeKey(deviceID, controlID)] = target
}

func (t *writeTargets) get(deviceID, controlID string) (writeTarget, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	target, ok := t.targets[writeKey(deviceID, controlID)]
	return target, ok
}

func (g *Gateway) registerWriteTarget(deviceID, controlID string, target writeTarget) {
	g.writes.set(deviceID, controlID, target)
}

// runWrites drains the broker's write channel until ctx is done, turning
// each write into an outbound SET_PARAMETER_VALUE request.
func (g *Gateway) runWrites(ctx context.Context) {
	defer g.wg.Done()
	ch := g.client.Subscribe(ctx)
	for w := range ch {
		g.handleWrite(w)
	}
}

func (g *Gateway) handleWrite(w broker.ValueWrite) {
	target, ok := g.writes.get(w.DeviceID, w.ControlID)
	if !ok {
		g.logger.WithFields(logrus.Fields{"device": w.DeviceID, "control": w.ControlID}).
			Debug("swgw: write for unknown or read-only control")
		g.countWrite("unknown_control")
		return
	}

	valueBytes, err := target.codec.Encode(w.Value)
	if err != nil {
		g.logger.WithError(err).WithFields(logrus.Fields{"device": w.DeviceID, "control": w.ControlID}).
			Warn("swgw: encode write value")
		g.countWrite("encode_error")
		return
	}

	payload := append([]byte{target.classType, target.fieldID}, valueBytes...)
	h := canframe.Header{
		ProgramType: canframe.ProgramTypeRemoteControl,
		ProgramID:   target.programID,
		FunctionID:  canframe.FuncSetParameterValue,
		MessageType: canframe.Request,
	}
	f, err := canframe.New(h, payload)
	if err != nil {
		g.logger.WithError(err).Error("swgw: build SET_PARAMETER_VALUE frame")
		g.countWrite("build_error")
		return
	}
	if err := g.port.Send(f); err != nil {
		g.logger.WithError(err).Warn("swgw: send SET_PARAMETER_VALUE")
		g.countWrite("send_error")
		return
	}
	g.countWrite("sent")
}

func (g *Gateway) countWrite(outcome string) {
	if g.mx != nil {
		g.mx.BrokerWrites.WithLabelValues(outcome).Inc()
	}
}
