package classreg

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/valuecodec"
)

//go:embed builtin/*.json
var builtinFS embed.FS

// fieldDoc is the on-disk shape of one input/output/parameter declaration.
type fieldDoc struct {
	ID       uint32            `json:"id"`
	Name     string            `json:"name,omitempty"`
	Type     string            `json:"type,omitempty"`
	ReadOnly *bool             `json:"readOnly,omitempty"`
	Encoding string            `json:"encoding,omitempty"`
	Values   map[string]string `json:"values,omitempty"`
}

// classDoc is the on-disk shape of one class-description document.
type classDoc struct {
	ProgramType uint8      `json:"programType"`
	Class       string     `json:"class"`
	Implements  []string   `json:"implements,omitempty"`
	Inputs      []fieldDoc `json:"inputs,omitempty"`
	Outputs     []fieldDoc `json:"outputs,omitempty"`
	Parameters  []fieldDoc `json:"parameters,omitempty"`
}

// Registry holds known program classes keyed both by numeric type (wire
// addressing) and by name (inheritance lookups).
type Registry struct {
	byType map[uint8]*ProgramClass
	byName map[string]*ProgramClass
}

func newRegistry() *Registry {
	return &Registry{byType: map[uint8]*ProgramClass{}, byName: map[string]*ProgramClass{}}
}

// ByType looks up a class by its wire program type.
func (r *Registry) ByType(t uint8) (*ProgramClass, bool) {
	c, ok := r.byType[t]
	return c, ok
}

// ByName looks up a class by name, for inheritance resolution.
func (r *Registry) ByName(name string) (*ProgramClass, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Classes returns every registered class, for iteration/diagnostics.
func (r *Registry) Classes() []*ProgramClass {
	out := make([]*ProgramClass, 0, len(r.byType))
	for _, c := range r.byType {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// AllParameters returns c's own parameters plus, recursively, the
// parameters of every ancestor class named in ParentClassNames whose name
// resolves to a known class. The builtin root class (RootClassName) has
// no parents and terminates the walk. Cycles are guarded defensively
// (a class is never visited twice).
func (r *Registry) AllParameters(c *ProgramClass) []Field {
	seen := map[string]bool{}
	var fields []Field
	var walk func(cls *ProgramClass)
	walk = func(cls *ProgramClass) {
		if cls == nil || seen[cls.Name] {
			return
		}
		seen[cls.Name] = true
		for _, f := range cls.Parameters {
			fields = append(fields, f)
		}
		for _, pname := range cls.ParentClassNames {
			if parent, ok := r.byName[pname]; ok {
				walk(parent)
			}
		}
	}
	walk(c)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Order < fields[j].Order })
	return fields
}

// Load builds a Registry from the embedded builtin classes merged with
// every *.json document found directly under userDir (non-recursive).
// USER classes override BUILTIN classes sharing the same ProgramType;
// a USER class never overrides a USER class already loaded for that
// type (logged as a rejected duplicate); a BUILTIN class never overrides
// a USER class already loaded for that type (silently ignored, per
// spec.md §4.4).
func Load(userDir string) (*Registry, error) {
	reg := newRegistry()

	builtinEntries, err := fs.Glob(builtinFS, "builtin/*.json")
	if err != nil {
		return nil, fmt.Errorf("classreg: listing builtin classes: %w", err)
	}
	for _, name := range builtinEntries {
		raw, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("classreg: reading builtin class %s: %w", name, err)
		}
		if err := loadDocument(reg, name, raw, Builtin); err != nil {
			return nil, err
		}
	}

	if userDir != "" {
		entries, err := os.ReadDir(userDir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("classreg: listing user classes in %s: %w", userDir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			path := filepath.Join(userDir, entry.Name())
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("classreg: reading user class %s: %w", path, err)
			}
			if err := loadDocument(reg, path, raw, User); err != nil {
				return nil, err
			}
		}
	}

	return reg, nil
}

func loadDocument(reg *Registry, source string, raw []byte, provenance Provenance) error {
	var doc classDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("classreg: parsing %s: %w", source, err)
	}
	class, err := convert(doc, provenance)
	if err != nil {
		return fmt.Errorf("classreg: %s: %w", source, err)
	}
	insert(reg, class)
	return nil
}

func insert(reg *Registry, class *ProgramClass) {
	existing, ok := reg.byType[class.Type]
	if ok {
		switch {
		case existing.Provenance == User && class.Provenance == User:
			logrus.WithFields(logrus.Fields{"programType": class.Type, "class": class.Name}).
				Warn("classreg: duplicate USER class for program type, keeping the first one loaded")
			return
		case existing.Provenance == User && class.Provenance == Builtin:
			return // BUILTIN after USER is ignored
		case existing.Provenance == Builtin && class.Provenance == User:
			logrus.WithFields(logrus.Fields{"programType": class.Type, "from": existing.Name, "to": class.Name}).
				Info("classreg: USER class overrides BUILTIN class for program type")
		}
	}
	reg.byType[class.Type] = class
	reg.byName[class.Name] = class
}

func convert(doc classDoc, provenance Provenance) (*ProgramClass, error) {
	class := &ProgramClass{
		Type:             doc.ProgramType,
		Name:             doc.Class,
		ParentClassNames: doc.Implements,
		Inputs:           map[uint32]Field{},
		Outputs:          map[uint32]Field{},
		Parameters:       map[uint32]Field{},
		Provenance:       provenance,
	}
	order := 0
	for _, fd := range doc.Inputs {
		f, err := convertField(fd, fieldSectionInput)
		if err != nil {
			return nil, err
		}
		f.Order = order
		order++
		class.Inputs[f.ID] = f
	}
	for _, fd := range doc.Outputs {
		f, err := convertField(fd, fieldSectionOutput)
		if err != nil {
			return nil, err
		}
		f.Order = order
		order++
		class.Outputs[f.ID] = f
	}
	for _, fd := range doc.Parameters {
		f, err := convertField(fd, fieldSectionParameter)
		if err != nil {
			return nil, err
		}
		f.Order = order
		order++
		class.Parameters[f.ID] = f
	}
	return class, nil
}

type fieldSection int

const (
	fieldSectionInput fieldSection = iota
	fieldSectionOutput
	fieldSectionParameter
)

func convertField(fd fieldDoc, section fieldSection) (Field, error) {
	name := fd.Name
	if name == "" {
		name = strconv.FormatUint(uint64(fd.ID), 10)
	}
	f := Field{ID: fd.ID, Name: name, DisplayType: fd.Type}

	switch section {
	case fieldSectionInput:
		f.ReadOnly = true
		if fd.Type == "onOff" {
			f.Codec = valuecodec.OnOffSensor{}
		} else {
			f.Codec = valuecodec.Sensor{}
		}
	case fieldSectionOutput:
		f.ReadOnly = true
		if fd.Type == "PWM" {
			f.Codec = valuecodec.PWM{}
		} else {
			f.Codec = valuecodec.Output{}
		}
	case fieldSectionParameter:
		f.ReadOnly = false
		if fd.ReadOnly != nil {
			f.ReadOnly = *fd.ReadOnly
		}
		codec, err := parameterCodec(fd)
		if err != nil {
			return Field{}, err
		}
		f.Codec = codec
	}
	return f, nil
}

func parameterCodec(fd fieldDoc) (valuecodec.Codec, error) {
	switch {
	case fd.Type == "onOff":
		return valuecodec.OnOffSensor{}, nil
	case fd.Type == "temperature" && fd.ReadOnly != nil && *fd.ReadOnly:
		return valuecodec.Sensor{}, nil
	case len(fd.Values) > 0:
		values := map[uint8]string{}
		for k, v := range fd.Values {
			n, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("enum value key %q is not numeric: %w", k, err)
			}
			values[uint8(n)] = v
		}
		return valuecodec.Enum{Values: values}, nil
	case fd.Encoding != "":
		return encodingCodec(fd.Encoding)
	default:
		return valuecodec.Default(), nil
	}
}

func encodingCodec(encoding string) (valuecodec.Codec, error) {
	switch encoding {
	case "byte":
		return valuecodec.IntDivisor{Width: 1, Signed: true, Divisor: 1}, nil
	case "short":
		return valuecodec.IntDivisor{Width: 2, Signed: true, Divisor: 1}, nil
	case "short10":
		return valuecodec.IntDivisor{Width: 2, Signed: true, Divisor: 10}, nil
	case "short100":
		return valuecodec.IntDivisor{Width: 2, Signed: true, Divisor: 100}, nil
	case "ushort":
		return valuecodec.IntDivisor{Width: 2, Signed: false, Divisor: 1}, nil
	case "uint1K":
		return valuecodec.IntDivisor{Width: 4, Signed: false, Divisor: 1000}, nil
	case "uint60K":
		return valuecodec.IntDivisor{Width: 4, Signed: false, Divisor: 60000}, nil
	case "ubyte":
		return valuecodec.IntDivisor{Width: 1, Signed: false, Divisor: 1}, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}
