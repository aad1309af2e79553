package mqttgw

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/broker"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/busport"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/gwconfig"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/metrics"
)

// Gateway owns one Controller per configured controller_id and registers
// each as a Bus Port handler (spec.md §4.8: "one MQTT→SW gateway per
// configured controller_id").
type Gateway struct {
	port        busport.Port
	controllers []*Controller
}

// New constructs and registers a Controller for every entry in cfg.
func New(cfg []gwconfig.Controller, port busport.Port, client broker.Client, logger *logrus.Entry, mx *metrics.Registry) (*Gateway, error) {
	g := &Gateway{port: port}
	seen := make(map[uint8]bool, len(cfg))
	for _, ctrlCfg := range cfg {
		if seen[ctrlCfg.ControllerID] {
			return nil, fmt.Errorf("mqttgw: duplicate controller_id %d", ctrlCfg.ControllerID)
		}
		seen[ctrlCfg.ControllerID] = true

		ctrl, err := NewController(ctrlCfg, port, client, logger, mx)
		if err != nil {
			return nil, err
		}
		g.controllers = append(g.controllers, ctrl)
	}
	return g, nil
}

// Start registers every controller as a handler and launches its worker.
func (g *Gateway) Start() {
	for _, c := range g.controllers {
		g.port.AddHandler(c)
		c.Start()
	}
}

// Stop deregisters and stops every controller, in construction order.
func (g *Gateway) Stop() {
	for _, c := range g.controllers {
		g.port.RemoveHandler(c)
		c.Stop()
	}
}
