// Package broker is the gateway's only window onto the MQTT broker: a
// narrow Client/Device/Control interface (spec.md §4.7) plus a
// paho.mqtt.golang-backed implementation using the wb-mqtt style
// devices/controls topic convention.
package broker

import "context"

// ControlMeta is the retained metadata published alongside a control's
// value topic.
type ControlMeta struct {
	DisplayType string `json:"type"`
	ReadOnly    bool   `json:"readonly"`
	Max         string `json:"max,omitempty"`
	Units       string `json:"units,omitempty"`
	Order       int    `json:"order"`
}

// ValueWrite is an incoming write request for one control, delivered from
// the broker's "/on" write topic.
type ValueWrite struct {
	DeviceID  string
	ControlID string
	Value     string
}

// ValueChange is a value observed on any control's value topic, regardless
// of who published it — exactly what a real broker subscription delivers,
// including the gateway's own writes echoed back.
type ValueChange struct {
	DeviceID  string
	ControlID string
	Value     string
}

// Client is the gateway-facing broker surface. Both gateways (mqttgw,
// swgw) depend on this interface, never on paho.mqtt.golang directly.
type Client interface {
	// EnsureDevice publishes/retains the device's existence and returns a
	// handle to manage its controls. Calling it again for the same id is
	// a no-op that returns the existing handle.
	EnsureDevice(id, name string) Device
	// RemoveDevice retracts a device and all of its controls (clears
	// their retained topics).
	RemoveDevice(id string)
	// Subscribe delivers every write received on any control's "/on"
	// topic until ctx is done, at which point the channel is closed.
	Subscribe(ctx context.Context) <-chan ValueWrite
	// SubscribeValues delivers a ValueChange every time any control's
	// value topic is published, until ctx is done (spec.md §4.6: "a
	// value-change event from the broker refreshes last_update_time").
	SubscribeValues(ctx context.Context) <-chan ValueChange
	// Close disconnects from the broker. MQTTClient leaves the Subscribe
	// and SubscribeValues channels open until their ctx is done;
	// MemoryClient closes its internal queues, which also ends them.
	Close() error
}

// Device groups the controls exposed under one SmartWeb program.
type Device interface {
	// EnsureControl publishes retained metadata for id (replacing any
	// previous metadata) and returns a handle to publish its value.
	EnsureControl(id string, meta ControlMeta) Control
	// RemoveControl retracts a control's value and metadata topics.
	RemoveControl(id string)
}

// Control is a single published value (a SmartWeb input, output, or
// parameter).
type Control interface {
	// SetValue publishes v as the control's current value, retained.
	SetValue(v string)
	// SetError marks the control as currently unreadable (spec.md's
	// sensor sentinel / decode-failure handling): the value topic is
	// cleared and code is logged, matching errkind.SensorError handling
	// upstream in swgw.
	SetError(code string)
	// Value returns the last value SetValue published and whether it is
	// still considered fresh (not yet superseded by a SetError).
	Value() (v string, fresh bool)
}
