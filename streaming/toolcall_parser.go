package streaming

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ParseState tracks one tool-call slot: the accumulated argument text plus
// enough JSON-scanner state to know whether the buffer is structurally
// complete without re-scanning it on every fragment.
type ParseState struct {
	buf      strings.Builder
	stack    []byte // open '{' / '[' brackets; len(stack) is the nesting depth
	inString bool
	escape   bool
	id       string
	name     string
	touched  int // sequence number of the last fragment routed here
}

// feed scans one fragment and appends it to the buffer. Braces and brackets
// only affect depth outside string literals; an escaped quote does not
// toggle the in-string flag.
func (s *ParseState) feed(fragment string) {
	for i := 0; i < len(fragment); i++ {
		c := fragment[i]
		if s.inString {
			if s.escape {
				s.escape = false
				continue
			}
			switch c {
			case '\\':
				s.escape = true
			case '"':
				s.inString = false
			}
			continue
		}
		switch c {
		case '"':
			s.inString = true
		case '{', '[':
			s.stack = append(s.stack, c)
		case '}', ']':
			if len(s.stack) > 0 {
				s.stack = s.stack[:len(s.stack)-1]
			}
		}
	}
	s.buf.WriteString(fragment)
}

// complete reports whether the buffer is non-empty with depth back at zero.
// A parse is only ever attempted on a complete buffer (or in the
// end-of-stream sweep).
func (s *ParseState) complete() bool {
	return s.buf.Len() > 0 && len(s.stack) == 0
}

// parse is the strict tier plus the closing-quote repair: if the scanner
// believes the buffer ended inside an open string, a single appended quote
// is tried before giving up.
func (s *ParseState) parse() (map[string]interface{}, bool, error) {
	raw := s.buf.String()

	var args map[string]interface{}
	err := json.Unmarshal([]byte(raw), &args)
	if err == nil {
		return args, false, nil
	}

	if s.inString {
		var repaired map[string]interface{}
		if json.Unmarshal([]byte(raw+`"`), &repaired) == nil {
			return repaired, true, nil
		}
	}
	return nil, false, err
}

// closeOpen returns the buffer with the open string and any open brackets
// closed, so a truncated buffer becomes syntactically valid JSON.
func (s *ParseState) closeOpen() string {
	out := s.buf.String()
	if s.inString {
		out += `"`
	}
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i] == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}
	return out
}

// salvage closes everything the scanner knows is open and parses the result.
// It never fails; unrecoverable buffers yield empty arguments.
func (s *ParseState) salvage() (map[string]interface{}, bool) {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(s.closeOpen()), &args); err != nil || args == nil {
		return map[string]interface{}{}, false
	}
	return args, true
}

// ToolCall is one fully reconstructed call taken out of the parser.
type ToolCall struct {
	Index int
	ID    string
	Name  string
	Args  map[string]interface{}
}

// Result is the outcome of feeding one fragment to AddChunk.
type Result struct {
	Complete bool
	Value    map[string]interface{}
	Repaired bool // parse succeeded only after appending a closing quote
	Err      error
}

// MalformedError marks a tool call whose arguments never parsed, even after
// repair. Callers drop the call and continue the stream.
type MalformedError struct {
	Index int
	Name  string
	Err   error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed tool call arguments at index %d (name %q): %v", e.Index, e.Name, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// ToolCallParser accumulates fragmented tool-call arguments for one stream.
// It is an arena of ParseState slots keyed by resolved index. Not safe for
// concurrent use; each stream is consumed by a single goroutine, and the
// parser must be Reset before being reused for another stream.
//
// If a provider ever interleaves two genuinely concurrent incomplete calls
// at the same index, continuation fragments go to the most recently touched
// incomplete slot; providers observed so far reuse an index only after the
// previous call there has completed.
type ToolCallParser struct {
	slots  map[int]*ParseState
	byID   map[string]int
	cursor int // monotonic scan position for relocated calls
	seq    int
}

func NewToolCallParser() *ToolCallParser {
	return &ToolCallParser{
		slots: make(map[int]*ParseState),
		byID:  make(map[string]int),
	}
}

// AddChunk routes one fragment to a slot and reports whether that slot's
// buffer just became a complete, parseable JSON object. The id and name are
// normally present only on the first fragment of a call.
func (p *ToolCallParser) AddChunk(index int, fragment, id, name string) Result {
	index = p.resolveIndex(index, id)

	state, ok := p.slots[index]
	if !ok {
		state = &ParseState{}
		p.slots[index] = state
	}
	if id != "" {
		state.id = id
		p.byID[id] = index
	}
	if name != "" {
		state.name = name
	}
	p.seq++
	state.touched = p.seq

	state.feed(fragment)

	if !state.complete() {
		return Result{}
	}

	value, repaired, err := state.parse()
	if err != nil {
		return Result{Err: &MalformedError{Index: index, Name: state.name, Err: err}}
	}
	return Result{Complete: true, Value: value, Repaired: repaired}
}

// resolveIndex applies the collision rules, in order of precedence: a known
// id always wins; a new id landing on a different call's finished slot is
// relocated; an id-less continuation stays on its index while that buffer is
// incomplete, otherwise it follows the most recently touched incomplete slot.
func (p *ToolCallParser) resolveIndex(index int, id string) int {
	if id != "" {
		if bound, ok := p.byID[id]; ok {
			return bound
		}
		if state, ok := p.slots[index]; ok && state.complete() && state.id != "" && state.id != id {
			return p.findNextAvailableIndex(index)
		}
		return index
	}

	state, ok := p.slots[index]
	if !ok || !state.complete() {
		return index
	}
	if recent, ok := p.mostRecentIncomplete(); ok {
		return recent
	}
	return p.findNextAvailableIndex(index)
}

// findNextAvailableIndex scans upward from the monotonic cursor for an
// unoccupied slot.
func (p *ToolCallParser) findNextAvailableIndex(from int) int {
	if p.cursor < from+1 {
		p.cursor = from + 1
	}
	for p.slots[p.cursor] != nil {
		p.cursor++
	}
	return p.cursor
}

func (p *ToolCallParser) mostRecentIncomplete() (int, bool) {
	best, bestTouched := 0, 0
	found := false
	for i, state := range p.slots {
		if state.buf.Len() > 0 && !state.complete() && state.touched > bestTouched {
			best, bestTouched = i, state.touched
			found = true
		}
	}
	return best, found
}

// Finalize parses and clears one slot, returning its call if the slot is
// named. Used by converters that learn about call boundaries from explicit
// stop events rather than an end-of-stream sweep; an empty buffer means a
// call with no arguments.
func (p *ToolCallParser) Finalize(index int) (ToolCall, bool) {
	state, ok := p.slots[index]
	if !ok || state.name == "" {
		return ToolCall{}, false
	}
	args, _, err := state.parse()
	if err != nil {
		args, _ = state.salvage()
	}
	call := ToolCall{Index: index, ID: state.id, Name: state.name, Args: args}
	p.ResetIndex(index)
	return call, true
}

// CompletedCalls sweeps every slot holding a non-empty buffer and a name, in
// index order. Parsing falls back in three tiers: strict, repair with a
// closing quote, then a permissive close of all open brackets that never
// fails and defaults to empty arguments.
func (p *ToolCallParser) CompletedCalls() []ToolCall {
	indices := make([]int, 0, len(p.slots))
	for i := range p.slots {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	var calls []ToolCall
	for _, i := range indices {
		state := p.slots[i]
		if state.buf.Len() == 0 || state.name == "" {
			continue
		}
		args, _, err := state.parse()
		if err != nil {
			args, _ = state.salvage()
		}
		calls = append(calls, ToolCall{Index: i, ID: state.id, Name: state.name, Args: args})
	}
	return calls
}

// ResetIndex clears a single slot, unbinding any id that pointed at it.
func (p *ToolCallParser) ResetIndex(index int) {
	state, ok := p.slots[index]
	if !ok {
		return
	}
	if state.id != "" {
		delete(p.byID, state.id)
	}
	delete(p.slots, index)
}

// Reset clears all state. Required between streams: no buffer, id binding or
// cursor position may leak from one stream into the next.
func (p *ToolCallParser) Reset() {
	p.slots = make(map[int]*ParseState)
	p.byID = make(map[string]int)
	p.cursor = 0
	p.seq = 0
}
