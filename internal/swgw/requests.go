package swgw

import (
	"sort"
	"sync"

	"github.com/wirenboard/wb-mqtt-smartweb/internal/canframe"
	"github.com/wirenboard/wb-mqtt-smartweb/internal/classreg"
)

// requestEntry is one pending REMOTE_CONTROL/GET_PARAMETER_VALUE poll,
// addressed to a discovered program (spec.md §4.7 "request construction").
type requestEntry struct {
	programID uint8
	payload   []byte // 3 bytes (indexed: input/output) or 2 bytes (parameter)
}

func (e requestEntry) frame() (canframe.Frame, error) {
	h := canframe.Header{
		ProgramType: canframe.ProgramTypeRemoteControl,
		ProgramID:   e.programID,
		FunctionID:  canframe.FuncGetParameterValue,
		MessageType: canframe.Request,
	}
	return canframe.New(h, e.payload)
}

// requestList is the round-robin poll list (spec.md §5: "guarded by a
// request mutex; appended on discovery, read by scheduler"). It is never
// reordered; next wraps modulo its current length.
type requestList struct {
	mu      sync.Mutex
	entries []requestEntry
	pos     int
}

func newRequestList() *requestList { return &requestList{} }

func (l *requestList) append(entries ...requestEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entries...)
}

func (l *requestList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// next pops the next request modulo the list's current length; it does
// not remove the entry, since the list round-robins forever.
func (l *requestList) next() (requestEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return requestEntry{}, false
	}
	e := l.entries[l.pos%len(l.entries)]
	l.pos++
	return e, true
}

// requestsForProgram builds the full set of poll requests for a freshly
// discovered program: one indexed request per input, one per output, and
// one unindexed request per parameter of class and, recursively, of every
// ancestor named in ParentClassNames resolvable in reg (spec.md §4.7,
// Scenario E).
func requestsForProgram(reg *classreg.Registry, programID uint8, class *classreg.ProgramClass) []requestEntry {
	var entries []requestEntry

	for _, id := range sortedFieldIDs(class.Inputs) {
		entries = append(entries, requestEntry{
			programID: programID,
			payload:   []byte{canframe.ProgramTypeProgram, canframe.ParamSensor, byte(id)},
		})
	}
	for _, id := range sortedFieldIDs(class.Outputs) {
		entries = append(entries, requestEntry{
			programID: programID,
			payload:   []byte{canframe.ProgramTypeProgram, canframe.ParamOutput, byte(id)},
		})
	}

	seen := map[string]bool{}
	var walkParameters func(cls *classreg.ProgramClass)
	walkParameters = func(cls *classreg.ProgramClass) {
		if cls == nil || seen[cls.Name] {
			return
		}
		seen[cls.Name] = true
		for _, id := range sortedFieldIDs(cls.Parameters) {
			entries = append(entries, requestEntry{
				programID: programID,
				payload:   []byte{cls.Type, byte(id)},
			})
		}
		for _, parentName := range cls.ParentClassNames {
			if parent, ok := reg.ByName(parentName); ok {
				walkParameters(parent)
			}
		}
	}
	walkParameters(class)

	return entries
}

func sortedFieldIDs(fields map[uint32]classreg.Field) []uint32 {
	ids := make([]uint32, 0, len(fields))
	for id := range fields {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return fields[ids[i]].Order < fields[ids[j]].Order })
	return ids
}
