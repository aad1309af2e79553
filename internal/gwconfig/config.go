// Package gwconfig is the gateway's JSON configuration document and CLI
// flag set (spec.md §6). Configuration is decoded with the standard
// library's encoding/json — schema validation is explicitly out of scope
// (spec.md §1 Out of scope), so a dedicated JSON-schema library is never
// wired in here; decode errors are reported as errkind.Fatal and the
// process exits per the CLI exit-code contract.
package gwconfig

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/errkind"
)

// Config is the top-level configuration document.
type Config struct {
	Debug          bool         `json:"debug"`
	Controllers    []Controller `json:"controllers"`
	PollIntervalMs uint32       `json:"poll_interval_ms"`
}

// Controller is one virtual SmartWeb controller this gateway presents on
// the CAN bus.
type Controller struct {
	ControllerID uint8       `json:"controller_id"`
	Sensors      []Sensor    `json:"sensors,omitempty"`
	Outputs      []Output    `json:"outputs,omitempty"`
	Parameters   []Parameter `json:"parameters,omitempty"`
}

// Sensor binds a broker "device/control" channel to a SmartWeb sensor
// index. It is also aliased into OutputMapping[SensorIndex-1]: any
// controller exposing sensor N also advertises output N-1 as the same
// channel (spec.md §6, the sensor/output aliasing Open Question).
type Sensor struct {
	Channel         string `json:"channel"`
	SensorIndex     uint8  `json:"sensor_index"`
	ValueTimeoutMin int32  `json:"value_timeout_min,omitempty"`
}

// Output binds a channel to one of the 32 output broadcast slots.
type Output struct {
	Channel         string `json:"channel"`
	OutputIndex     uint8  `json:"output_index"`
	ValueTimeoutMin int32  `json:"value_timeout_min,omitempty"`
}

// Parameter binds a channel to a remote program's parameter.
type Parameter struct {
	Channel         string `json:"channel"`
	ProgramType     uint8  `json:"program_type"`
	ParameterID     uint8  `json:"parameter_id"`
	ParameterIndex  uint8  `json:"parameter_index"`
	ValueTimeoutMin int32  `json:"value_timeout_min,omitempty"`
}

// Load reads and decodes a Config document from path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.Fatal, "gwconfig.Load", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errkind.Wrap(errkind.Fatal, "gwconfig.Load", fmt.Errorf("%s: %w", path, err))
	}
	return &cfg, nil
}

// ValueTimeoutDisabled reports whether a value_timeout_min of ms is the
// spec's "negative disables" sentinel.
func ValueTimeoutDisabled(min int32) bool { return min < 0 }
