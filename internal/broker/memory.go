package broker

import (
	"context"
	"sync"
)

// MemoryClient is an in-process Client used by gateway tests and by
// non-MQTT embeddings; it implements the same retained-value semantics as
// MQTTClient without a network round trip.
type MemoryClient struct {
	mu      sync.Mutex
	devices map[string]*memoryDevice
	writes  chan ValueWrite
	changes chan ValueChange
}

// NewMemoryClient returns a ready-to-use in-memory Client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		devices: make(map[string]*memoryDevice),
		writes:  make(chan ValueWrite, 64),
		changes: make(chan ValueChange, 64),
	}
}

func (c *MemoryClient) EnsureDevice(id, name string) Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.devices[id]; ok {
		return d
	}
	d := &memoryDevice{id: id, client: c, controls: make(map[string]*memoryControl)}
	c.devices[id] = d
	return d
}

func (c *MemoryClient) RemoveDevice(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.devices, id)
}

func (c *MemoryClient) Subscribe(ctx context.Context) <-chan ValueWrite {
	out := make(chan ValueWrite)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case w, ok := <-c.writes:
				if !ok {
					return
				}
				select {
				case out <- w:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (c *MemoryClient) SubscribeValues(ctx context.Context) <-chan ValueChange {
	out := make(chan ValueChange)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-c.changes:
				if !ok {
					return
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (c *MemoryClient) publishChange(v ValueChange) {
	select {
	case c.changes <- v:
	default:
	}
}

func (c *MemoryClient) Close() error {
	close(c.writes)
	close(c.changes)
	return nil
}

// InjectWrite simulates a broker-delivered value write, for tests driving
// the MQTT→SmartWeb gateway.
func (c *MemoryClient) InjectWrite(w ValueWrite) {
	c.writes <- w
}

// Device returns the device registered under id, or nil if EnsureDevice
// was never called for it, for test assertions.
func (c *MemoryClient) Device(id string) *memoryDevice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.devices[id]
}

type memoryDevice struct {
	id     string
	client *MemoryClient

	mu       sync.Mutex
	controls map[string]*memoryControl
}

func (d *memoryDevice) EnsureControl(id string, meta ControlMeta) Control {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.controls[id]
	if !ok {
		c = &memoryControl{client: d.client, deviceID: d.id, id: id}
		d.controls[id] = c
	}
	c.meta = meta
	return c
}

func (d *memoryDevice) RemoveControl(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.controls, id)
}

func (d *memoryDevice) Control(id string) *memoryControl {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.controls[id]
}

type memoryControl struct {
	client   *MemoryClient
	deviceID string
	id       string
	meta     ControlMeta

	mu    sync.Mutex
	value string
	fresh bool
}

func (c *memoryControl) SetValue(v string) {
	c.mu.Lock()
	c.value = v
	c.fresh = true
	c.mu.Unlock()
	if c.client != nil {
		c.client.publishChange(ValueChange{DeviceID: c.deviceID, ControlID: c.id, Value: v})
	}
}

func (c *memoryControl) SetError(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fresh = false
}

func (c *memoryControl) Value() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.fresh
}
