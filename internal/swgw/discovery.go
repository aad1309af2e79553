package swgw

import (
	"github.com/sirupsen/logrus"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/canframe"
)

// Handle implements busport.Handler: it claims I_AM_PROGRAM discovery
// responses and GET_PARAMETER_VALUE poll responses from programs this
// gateway already tracks (spec.md §4.7).
func (g *Gateway) Handle(f canframe.Frame) bool {
	h := f.Header()
	if h.MessageType != canframe.Response {
		return false
	}
	switch {
	case h.ProgramType == canframe.ProgramTypeProgram && h.FunctionID == canframe.FuncIAmProgram:
		g.handleDiscovery(h, f)
		return true
	case h.ProgramType == canframe.ProgramTypeRemoteControl && h.FunctionID == canframe.FuncGetParameterValue:
		return g.handlePollResponse(h, f)
	}
	return false
}

// handleDiscovery records a newly-seen program and enqueues its poll
// requests. A program already known is left alone: I_AM_PROGRAM may be
// re-broadcast by the remote node without changing its class.
func (g *Gateway) handleDiscovery(h canframe.Header, f canframe.Frame) {
	payload := f.Payload()
	if len(payload) < 3 {
		g.logger.WithField("program_id", h.ProgramID).Debug("swgw: short I_AM_PROGRAM payload")
		return
	}
	classType := payload[2]
	class, ok := g.classes.ByType(classType)
	if !ok {
		g.logger.WithFields(logrus.Fields{"program_id": h.ProgramID, "class_type": classType}).
			Debug("swgw: I_AM_PROGRAM for unknown class type")
		return
	}

	id := deviceID(class, h.ProgramID)
	device := g.client.EnsureDevice(id, id)
	_, registered := g.reg.register(h.ProgramID, class, id, device)
	if !registered {
		return
	}

	entries := requestsForProgram(g.classes, h.ProgramID, class)
	g.requests.append(entries...)
	if g.mx != nil {
		g.mx.KnownPrograms.Set(float64(len(g.reg.all())))
	}
	g.logger.WithFields(logrus.Fields{
		"program_id": h.ProgramID, "class": class.Name, "requests": len(entries),
	}).Info("swgw: discovered program")
}

// handlePollResponse decodes one GET_PARAMETER_VALUE response and
// publishes it, per the program_type/parameter_id routing rule of
// spec.md §4.7.
func (g *Gateway) handlePollResponse(h canframe.Header, f canframe.Frame) bool {
	prog, ok := g.reg.get(h.ProgramID)
	if !ok {
		return false
	}
	payload := f.Payload()
	if len(payload) < 2 {
		g.logger.WithField("program_id", h.ProgramID).Debug("swgw: short GET_PARAMETER_VALUE response")
		return true
	}

	if payload[0] == canframe.ProgramTypeProgram && (payload[1] == canframe.ParamSensor || payload[1] == canframe.ParamOutput) {
		parsed, err := canframe.DecodeIndexedParameter(payload)
		if err != nil {
			g.logger.WithError(err).Debug("swgw: malformed indexed response")
			return true
		}
		fields := prog.class.Outputs
		if payload[1] == canframe.ParamSensor {
			fields = prog.class.Inputs
		}
		field, ok := fields[uint32(parsed.Index)]
		if !ok {
			g.logger.WithFields(logrus.Fields{"program_id": h.ProgramID, "index": parsed.Index}).
				Debug("swgw: response for unmapped input/output index")
			return true
		}
		g.publish(prog, field, parsed.Value)
		return true
	}

	parsed, err := canframe.DecodeUnindexedParameter(payload)
	if err != nil {
		g.logger.WithError(err).Debug("swgw: malformed parameter response")
		return true
	}
	cls, ok := g.classes.ByType(parsed.ProgramType)
	if !ok {
		g.logger.WithField("class_type", parsed.ProgramType).Debug("swgw: response for unknown class type")
		return true
	}
	field, ok := cls.Parameters[uint32(parsed.ParameterID)]
	if !ok {
		g.logger.WithFields(logrus.Fields{"class": cls.Name, "parameter_id": parsed.ParameterID}).
			Debug("swgw: response for unmapped parameter id")
		return true
	}
	if !field.ReadOnly {
		g.registerWriteTarget(prog.deviceID, field.Name, writeTarget{
			programID: prog.programID,
			classType: cls.Type,
			fieldID:   uint8(parsed.ParameterID),
			codec:     field.Codec,
		})
	}
	g.publish(prog, field, parsed.Value)
	return true
}
