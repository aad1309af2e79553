// Package classreg holds the Program-Class Registry: the configured
// description of known SmartWeb program classes (spec.md §4.4) — their
// inputs, outputs and parameters, per-field codec and metadata, and class
// inheritance for parent-class parameters.
//
// Cyclic references (a parameter pointing back to its class) are avoided
// per spec.md §9: a Field carries no back-pointer; the class it belongs to
// is only known by the registry lookup that returned it.
package classreg

import "github.com/wirenboard/wb-mqtt-smartweb/internal/valuecodec"

// Provenance tags where a class definition came from. USER always
// overrides BUILTIN for the same ProgramType.
type Provenance int

const (
	Builtin Provenance = iota
	User
)

// Field describes one input, output or parameter of a program class.
type Field struct {
	ID          uint32
	Name        string
	DisplayType string
	ReadOnly    bool
	Codec       valuecodec.Codec
	Order       int
}

// ProgramClass is a configured description of a SmartWeb program type.
type ProgramClass struct {
	Type             uint8
	Name             string
	ParentClassNames []string
	Inputs           map[uint32]Field
	Outputs          map[uint32]Field
	Parameters       map[uint32]Field
	Provenance       Provenance
}

// RootClassName is the conventional terminator of the parent-class chain;
// builtin classes declare it with no parents of its own.
const RootClassName = "PROGRAM"
