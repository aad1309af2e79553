package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// MQTTConfig describes how to reach the broker (spec.md §6 `-h/-H, -u, -P,
// -T` CLI flags feed this).
type MQTTConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	TopicPrefix string
	ClientID   string
}

func (c MQTTConfig) brokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// MQTTClient is the paho.mqtt.golang-backed Client, publishing to
// `<prefix>/devices/<device>/controls/<control>` (value) and its `/meta`
// sibling (retained JSON metadata), subscribing to
// `<prefix>/devices/+/controls/+/on` for writes (spec.md §4.7).
type MQTTClient struct {
	cfg    MQTTConfig
	client mqtt.Client
	logger *logrus.Entry

	mu      sync.Mutex
	devices map[string]*mqttDevice

	writes chan ValueWrite
	values chan ValueChange
}

// NewMQTTClient connects to the broker described by cfg and returns a
// ready-to-use Client. The connection auto-reconnects and re-subscribes
// to the write filter on every (re)connect, matching the
// SetOnConnectHandler resubscription idiom used across the MQTT bridge
// gateways in the example pack.
func NewMQTTClient(cfg MQTTConfig, logger *logrus.Entry) (*MQTTClient, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &MQTTClient{
		cfg:     cfg,
		logger:  logger.WithField("component", "broker"),
		devices: make(map[string]*mqttDevice),
		writes:  make(chan ValueWrite, 64),
		values:  make(chan ValueChange, 64),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.brokerURL())
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(cl mqtt.Client) {
		c.logger.Info("broker: connected")
		filter := writeSubscriptionFilter(cfg.TopicPrefix)
		if token := cl.Subscribe(filter, 1, c.onWrite); token.Wait() && token.Error() != nil {
			c.logger.WithError(token.Error()).WithField("filter", filter).Error("broker: subscribe failed")
		}
		valueFilter := valueSubscriptionFilter(cfg.TopicPrefix)
		if token := cl.Subscribe(valueFilter, 1, c.onValueChange); token.Wait() && token.Error() != nil {
			c.logger.WithError(token.Error()).WithField("filter", valueFilter).Error("broker: subscribe failed")
		}
	})
	opts.SetConnectionLostHandler(func(cl mqtt.Client, err error) {
		c.logger.WithError(err).Warn("broker: connection lost")
	})

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("broker: connect: %w", token.Error())
	}
	return c, nil
}

func (c *MQTTClient) onWrite(_ mqtt.Client, msg mqtt.Message) {
	deviceID, controlID, ok := parseWriteTopic(c.cfg.TopicPrefix, msg.Topic())
	if !ok {
		c.logger.WithField("topic", msg.Topic()).Debug("broker: ignoring unrecognised write topic")
		return
	}
	write := ValueWrite{DeviceID: deviceID, ControlID: controlID, Value: string(msg.Payload())}
	select {
	case c.writes <- write:
	default:
		c.logger.Warn("broker: write queue full, dropping value write")
	}
}

func (c *MQTTClient) onValueChange(_ mqtt.Client, msg mqtt.Message) {
	deviceID, controlID, ok := parseValueTopic(c.cfg.TopicPrefix, msg.Topic())
	if !ok {
		return
	}
	change := ValueChange{DeviceID: deviceID, ControlID: controlID, Value: string(msg.Payload())}
	select {
	case c.values <- change:
	default:
		c.logger.Warn("broker: value-change queue full, dropping update")
	}
}

func (c *MQTTClient) EnsureDevice(id, name string) Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.devices[id]; ok {
		return d
	}
	d := &mqttDevice{client: c, id: id, controls: make(map[string]*mqttControl)}
	c.devices[id] = d
	c.publishRetained(deviceTopic(c.cfg.TopicPrefix, id), []byte(name))
	return d
}

func (c *MQTTClient) RemoveDevice(id string) {
	c.mu.Lock()
	d, ok := c.devices[id]
	if ok {
		delete(c.devices, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	for controlID := range d.snapshotControlIDs() {
		d.RemoveControl(controlID)
	}
	c.publishRetained(deviceTopic(c.cfg.TopicPrefix, id), nil)
}

func (c *MQTTClient) Subscribe(ctx context.Context) <-chan ValueWrite {
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

func (c *MQTTClient) SubscribeValues(ctx context.Context) <-chan ValueChange {
	out := make(chan ValueChange)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-c.values:
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

func (c *MQTTClient) Close() error {
	c.client.Disconnect(250)
	return nil
}

func (c *MQTTClient) publishRetained(topic string, payload []byte) {
	retained := payload != nil
	if payload == nil {
		payload = []byte{}
	}
	token := c.client.Publish(topic, 1, retained, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			c.logger.WithError(token.Error()).WithField("topic", topic).Error("broker: publish failed")
		}
	}()
}

type mqttDevice struct {
	client *MQTTClient
	id     string

	mu       sync.Mutex
	controls map[string]*mqttControl
}

func (d *mqttDevice) EnsureControl(id string, meta ControlMeta) Control {
	d.mu.Lock()
	c, ok := d.controls[id]
	if !ok {
		c = &mqttControl{device: d, id: id}
		d.controls[id] = c
	}
	d.mu.Unlock()

	if payload, err := encodeMeta(meta); err != nil {
		d.client.logger.WithError(err).Error("broker: encode control metadata")
	} else {
		d.client.publishRetained(controlMetaTopic(d.client.cfg.TopicPrefix, d.id, id), payload)
	}
	return c
}

func (d *mqttDevice) RemoveControl(id string) {
	d.mu.Lock()
	delete(d.controls, id)
	d.mu.Unlock()
	prefix := d.client.cfg.TopicPrefix
	d.client.publishRetained(controlTopic(prefix, d.id, id), nil)
	d.client.publishRetained(controlMetaTopic(prefix, d.id, id), nil)
}

func (d *mqttDevice) snapshotControlIDs() map[string]struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]struct{}, len(d.controls))
	for id := range d.controls {
		out[id] = struct{}{}
	}
	return out
}

type mqttControl struct {
	device *mqttDevice

	mu    sync.Mutex
	id    string
	value string
	fresh bool
}

func (c *mqttControl) SetValue(v string) {
	c.mu.Lock()
	c.value = v
	c.fresh = true
	c.mu.Unlock()
	c.device.client.publishRetained(controlTopic(c.device.client.cfg.TopicPrefix, c.device.id, c.id), []byte(v))
}

func (c *mqttControl) SetError(code string) {
	c.mu.Lock()
	c.fresh = false
	c.mu.Unlock()
	c.device.client.logger.WithFields(logrus.Fields{
		"device":  c.device.id,
		"control": c.id,
		"code":    code,
	}).Warn("broker: control value unreadable")
	c.device.client.publishRetained(controlTopic(c.device.client.cfg.TopicPrefix, c.device.id, c.id), nil)
}

func (c *mqttControl) Value() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.fresh
}
