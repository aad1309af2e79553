package mqttgw

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/broker"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/canframe"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/valuecodec"
)

// splitChannel parses a configured "device/control" channel string.
func splitChannel(channel string) (deviceID, controlID string, err error) {
	parts := strings.SplitN(channel, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("mqttgw: malformed channel %q, want \"device/control\"", channel)
	}
	return parts[0], parts[1], nil
}

// freshValue tracks a broker-sourced value against value_timeout_min,
// refreshed by a broker value-change push event rather than polled at
// request time (spec.md §4.6: "a value-change event from the broker
// refreshes last_update_time"; _examples/original_source/src/
// MqttToSmartWebGateway.cpp:207-211 subscribes to control-value events for
// exactly this reason).
type freshValue struct {
	control         broker.Control
	valueTimeoutMin int32

	mu         sync.Mutex
	lastValue  string
	lastUpdate time.Time
}

// applyChange records a broker value-change event; it is the only writer
// of lastValue/lastUpdate once the controller is running.
func (f *freshValue) applyChange(v string, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastValue = v
	f.lastUpdate = now
}

// fresh reports the last known value and whether it is still within
// value_timeout_min of its last change event; a negative timeout disables
// expiry. Before the first push event arrives for a newly built mapping,
// it falls back to a direct broker read so a channel isn't reported stale
// before anything has had a chance to update it.
func (f *freshValue) fresh(now time.Time) (string, bool) {
	f.mu.Lock()
	lastValue, lastUpdate := f.lastValue, f.lastUpdate
	f.mu.Unlock()

	if lastUpdate.IsZero() {
		return f.control.Value()
	}
	if f.valueTimeoutMin < 0 {
		return lastValue, true
	}
	return lastValue, now.Sub(lastUpdate) < time.Duration(f.valueTimeoutMin)*time.Minute
}

// paramMapping answers REMOTE_CONTROL/GET_PARAMETER_VALUE requests keyed by
// a parameter's raw_info (spec.md §3, §4.6).
type paramMapping struct {
	rawInfo canframe.RawInfo
	freshValue
}

// outputSlot is one of the 32 output-broadcast channels (spec.md §4.6). A
// configured sensor is aliased here at sensor_index-1 alongside directly
// configured outputs, since both are served by the same 1 Hz broadcast
// mechanism.
type outputSlot struct {
	channel string
	freshValue

	mu           sync.Mutex
	mappingPoint canframe.MappingPoint
	sendTime     time.Time
	sendEndTime  time.Time
}

func (o *outputSlot) schedule(now time.Time, mp canframe.MappingPoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mappingPoint = mp
	o.sendTime = now
	o.sendEndTime = now.Add(10 * time.Minute)
}

func (o *outputSlot) due(now time.Time) (canframe.MappingPoint, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sendEndTime.After(now) && !o.sendTime.After(now) {
		o.sendTime = now.Add(time.Second)
		return o.mappingPoint, true
	}
	return canframe.MappingPoint{}, false
}

// encodeBigEndianValue renders a broker control value through codec, then
// reverses the little-endian byte order of a 2-byte payload: the output
// broadcast frame is the one place in the protocol that carries its value
// big-endian (high byte first).
func encodeBigEndianValue(codec valuecodec.Codec, value string) ([]byte, error) {
	le, err := codec.Encode(value)
	if err != nil {
		return nil, err
	}
	be := make([]byte, len(le))
	for i, b := range le {
		be[len(le)-1-i] = b
	}
	return be, nil
}

// sensorUndefinedLE is the little-endian encoding of the SENSOR_UNDEFINED
// sentinel, used verbatim when a parameter is unmapped or stale.
func sensorUndefinedLE() []byte {
	v := int16(canframe.SensorUndefined)
	return []byte{byte(v), byte(v >> 8)}
}
