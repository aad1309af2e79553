// Package swgw is the SmartWeb→MQTT Gateway (spec.md §4.7): it discovers
// SmartWeb programs on the bus, polls their inputs/outputs/parameters
// round-robin, republishes decoded values as broker controls, and
// translates broker writes back into SET_PARAMETER_VALUE requests.
package swgw

import (
	"fmt"
	"sync"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/broker"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/classreg"
)

// knownProgram is one program discovered via I_AM_PROGRAM, bound to its
// class and broker device. Controls are created on demand as values
// arrive and cached here so repeated polls of the same field reuse one
// broker.Control handle.
type knownProgram struct {
	programID uint8
	class     *classreg.ProgramClass
	deviceID  string
	device    broker.Device

	controlsMu sync.Mutex
	controls   map[string]broker.Control
}

// control returns the cached handle for controlID, creating it (and
// publishing its retained metadata) on first use.
func (p *knownProgram) control(controlID string, meta broker.ControlMeta) broker.Control {
	p.controlsMu.Lock()
	defer p.controlsMu.Unlock()
	if c, ok := p.controls[controlID]; ok {
		return c
	}
	c := p.device.EnsureControl(controlID, meta)
	p.controls[controlID] = c
	return c
}

// registry is the known-programs map, guarded by its own mutex per
// spec.md §5 ("Known-programs map: guarded by a registry mutex; mutated
// only by SW→MQTT gateway; read by the same thread during poll
// construction").
type registry struct {
	mu   sync.Mutex
	byID map[uint8]*knownProgram
}

func newRegistry() *registry {
	return &registry{byID: make(map[uint8]*knownProgram)}
}

func (r *registry) get(programID uint8) (*knownProgram, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[programID]
	return p, ok
}

// register records a newly discovered program, returning false if it was
// already known (spec.md §4.7: "if ... the program id is not already
// registered, record the program").
func (r *registry) register(programID uint8, class *classreg.ProgramClass, deviceID string, device broker.Device) (*knownProgram, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[programID]; exists {
		return nil, false
	}
	p := &knownProgram{
		programID: programID,
		class:     class,
		deviceID:  deviceID,
		device:    device,
		controls:  make(map[string]broker.Control),
	}
	r.byID[programID] = p
	return p, true
}

func (r *registry) all() []*knownProgram {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*knownProgram, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	return out
}

func deviceID(class *classreg.ProgramClass, programID uint8) string {
	return fmt.Sprintf("sw %s %d", class.Name, programID)
}
