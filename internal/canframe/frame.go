// Package canframe packs and unpacks SmartWeb CAN frames: the 29-bit
// extended identifier bit layout and the short-format parameter payloads
// carried in the data bytes.
package canframe

import "fmt"

// MessageType is the two-bit message-type field of the identifier.
type MessageType uint8

const (
	Request  MessageType = 0
	Response MessageType = 2
	Error    MessageType = 3
)

// Well-known program types (SmartWeb "short format" conventions).
const (
	ProgramTypeController    = 11 // CONTROLLER
	ProgramTypeRemoteControl = 22 // REMOTE_CONTROL
	ProgramTypeProgram       = 1  // PROGRAM
)

// Well-known function ids.
const (
	FuncIAmHere           = 1
	FuncGetChannelNumber  = 10
	FuncGetControllerType = 11
	FuncGetOutputValue    = 12
	FuncGetParameterValue = 1
	FuncSetParameterValue = 2
	FuncIAmProgram        = 2
)

// Parameter ids used for sensors/outputs addressed via PROGRAM-typed payloads.
const (
	ParamSensor = 1
	ParamOutput = 2
)

const (
	// CONTROLLER_TYPE reported by a virtual controller.
	ControllerTypeExtended = 14

	// Sensor sentinel values (int16).
	SensorShortCircuit = -32768
	SensorOpen         = -32767
	SensorUndefined    = -32766
)

// Header is the set of fields packed into a 29-bit extended CAN identifier.
type Header struct {
	ProgramType   uint8
	ProgramID     uint8
	FunctionID    uint8
	MessageFormat uint8 // 3 bits; only 0 ("short") is supported
	MessageType   MessageType
}

// EncodeID packs h into a 29-bit extended CAN identifier (LSB-first layout:
// bits 0-7 program_type, 8-15 program_id, 16-23 function_id, 24-26
// message_format, 27-28 message_type).
func EncodeID(h Header) uint32 {
	id := uint32(h.ProgramType)
	id |= uint32(h.ProgramID) << 8
	id |= uint32(h.FunctionID) << 16
	id |= uint32(h.MessageFormat&0x7) << 24
	id |= uint32(h.MessageType&0x3) << 27
	return id
}

// DecodeID unpacks a 29-bit extended CAN identifier into its header fields.
func DecodeID(id uint32) Header {
	return Header{
		ProgramType:   uint8(id),
		ProgramID:     uint8(id >> 8),
		FunctionID:    uint8(id >> 16),
		MessageFormat: uint8(id>>24) & 0x7,
		MessageType:   MessageType(uint8(id>>27) & 0x3),
	}
}

// Frame is an outbound or inbound SmartWeb CAN frame: an extended
// identifier plus 0-8 data bytes. Length is the declared data length
// (can_dlc); Data beyond Length is not meaningful.
type Frame struct {
	ID     uint32
	Data   [8]byte
	Length uint8
}

// New builds a Frame from a header and payload, setting Length from len(data).
func New(h Header, data []byte) (Frame, error) {
	if len(data) > 8 {
		return Frame{}, fmt.Errorf("canframe: payload too long: %d bytes", len(data))
	}
	f := Frame{ID: EncodeID(h), Length: uint8(len(data))}
	copy(f.Data[:], data)
	return f, nil
}

// Header extracts and decodes this frame's identifier fields.
func (f Frame) Header() Header { return DecodeID(f.ID) }

// Payload returns the significant data bytes (Data[:Length]).
func (f Frame) Payload() []byte { return f.Data[:f.Length] }

// AsResponse copies h's header fields into a response header: same
// addressing, REQUEST -> RESPONSE.
func AsResponse(h Header) Header {
	h.MessageType = Response
	return h
}

// RawInfo is the packed 32-bit (program_type, parameter_id, index, _) key
// used to address a sensor/parameter request payload. It is the canonical
// comparable map key for parameter mappings.
type RawInfo uint32

// PackRawInfo packs an (unindexed-or-indexed) parameter key. index is 0 for
// unindexed parameters.
func PackRawInfo(programType, parameterID, index uint8) RawInfo {
	return RawInfo(programType) | RawInfo(parameterID)<<8 | RawInfo(index)<<16
}

func (r RawInfo) ProgramType() uint8 { return uint8(r) }
func (r RawInfo) ParameterID() uint8 { return uint8(r >> 8) }
func (r RawInfo) Index() uint8       { return uint8(r >> 16) }

// Bytes returns the 3-byte wire encoding (program_type, parameter_id, index)
// used as the key prefix of GET_PARAMETER_VALUE requests/responses.
func (r RawInfo) Bytes() [3]byte {
	return [3]byte{r.ProgramType(), r.ParameterID(), r.Index()}
}

// ParsedParameter is a decoded parameter payload (indexed or unindexed).
type ParsedParameter struct {
	ProgramType uint8
	ParameterID uint8
	Index       uint8 // 0 if unindexed
	Indexed     bool
	Value       []byte // remaining value bytes, LSB-first
}

// DecodeUnindexedParameter parses program_type, parameter_id, then up to 6
// value bytes. It does not read past len(data).
func DecodeUnindexedParameter(data []byte) (ParsedParameter, error) {
	if len(data) < 2 {
		return ParsedParameter{}, fmt.Errorf("canframe: short unindexed parameter payload: %d bytes", len(data))
	}
	p := ParsedParameter{ProgramType: data[0], ParameterID: data[1]}
	rest := data[2:]
	if len(rest) > 6 {
		rest = rest[:6]
	}
	p.Value = rest
	return p, nil
}

// DecodeIndexedParameter parses program_type, parameter_id, index, then up
// to 5 value bytes. It does not read past len(data).
func DecodeIndexedParameter(data []byte) (ParsedParameter, error) {
	if len(data) < 3 {
		return ParsedParameter{}, fmt.Errorf("canframe: short indexed parameter payload: %d bytes", len(data))
	}
	p := ParsedParameter{ProgramType: data[0], ParameterID: data[1], Index: data[2], Indexed: true}
	rest := data[3:]
	if len(rest) > 5 {
		rest = rest[:5]
	}
	p.Value = rest
	return p, nil
}

// RawInfo packs this parameter's addressing fields into a RawInfo key.
func (p ParsedParameter) RawInfo() RawInfo {
	return PackRawInfo(p.ProgramType, p.ParameterID, p.Index)
}

// MappingPoint is the 2-byte (host_id, channel_id[5 bits], type[3 bits])
// encoding used by output-broadcast requests.
type MappingPoint struct {
	HostID    uint8
	ChannelID uint8 // 0-31
	Type      uint8 // 0-7
}

// Encode packs a MappingPoint into its 2-byte little-endian wire form:
// byte0 = host_id, byte1 = channel_id (low 5 bits) | type<<5 (high 3 bits).
func (m MappingPoint) Encode() [2]byte {
	return [2]byte{m.HostID, (m.ChannelID & 0x1F) | (m.Type&0x7)<<5}
}

// DecodeMappingPoint unpacks a 2-byte mapping point.
func DecodeMappingPoint(b [2]byte) MappingPoint {
	return MappingPoint{
		HostID:    b[0],
		ChannelID: b[1] & 0x1F,
		Type:      (b[1] >> 5) & 0x7,
	}
}
