package swgw

import (
	"github.com/sirupsen/logrus"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/broker"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/classreg"
)

// displayType maps a class field's configured type string to the broker
// display type shown in the control's retained metadata (spec.md §6).
func displayType(fieldType string) string {
	switch fieldType {
	case "temperature":
		return "temperature"
	case "humidity":
		return "rel_humidity"
	case "onOff", "relay":
		return "switch"
	case "PWM", "%":
		return "range"
	case "id", "picklist":
		return "text"
	default:
		return "value"
	}
}

// controlMeta builds the retained metadata published for field.
func controlMeta(field classreg.Field) broker.ControlMeta {
	meta := broker.ControlMeta{
		DisplayType: displayType(field.DisplayType),
		ReadOnly:    field.ReadOnly,
		Order:       field.Order,
	}
	switch field.DisplayType {
	case "PWM", "%":
		meta.Max = "100"
		meta.Units = "%"
	case "minutes":
		meta.Units = "min"
	}
	return meta
}

// publish decodes value and pushes it to field's control, switching the
// control into the "r" (read) error state on a decode failure rather than
// propagating the error further (spec.md §4.7, §7 Broker I/O error policy).
func (g *Gateway) publish(prog *knownProgram, field classreg.Field, raw []byte) {
	ctrl := prog.control(field.Name, controlMeta(field))

	value, err := field.Codec.Decode(raw)
	if err != nil {
		ctrl.SetError("r")
		if g.mx != nil {
			g.mx.DecodeErrors.WithLabelValues(field.Codec.Name()).Inc()
		}
		g.logger.WithError(err).WithFields(logrus.Fields{
			"program_id": prog.programID,
			"device":     prog.deviceID,
			"field":      field.Name,
		}).Debug("swgw: decode failed, control marked error")
		return
	}
	ctrl.SetValue(value)
}
