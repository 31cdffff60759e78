package vm

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/funvibe/funforth/internal/config"
)

// Cell is the data-stack element type. Two instantiations are supported:
// 32-bit and 64-bit signed cells. Instruction words are always int32.
type Cell interface {
	~int32 | ~int64
}

// Config holds the fixed capacities of a machine. All stacks are allocated
// at construction and never grow; exceeding them is a runtime fault.
type Config struct {
	StackDepth         int64   // max data-stack depth
	RecursionDepth     int64   // max call-stack and do-stack depth
	OutputInitialSize  int64   // initial capacity of each output buffer
	OutputResizeFactor float64 // growth factor for output buffers
}

func DefaultConfig() Config {
	return Config{
		StackDepth:         config.DefaultStackDepth,
		RecursionDepth:     config.DefaultRecursionDepth,
		OutputInitialSize:  config.DefaultOutputInitialSize,
		OutputResizeFactor: config.DefaultOutputResizeFactor,
	}
}

// doRecord is one live counted loop. depth is the call depth of the frame
// the loop belongs to; the loop ends when i reaches stop.
type doRecord struct {
	isStep bool
	depth  int64
	i      int64
	stop   int64
}

// Machine is a compiled program plus its runtime state. It is single
// threaded and cooperative: execution suspends only at a 'pause', at a
// fault, or at Step boundaries, and Resume continues without state loss.
type Machine[T Cell] struct {
	id     string
	source string
	prog   *Program
	cfg    Config

	stack      []T
	stackDepth int64

	variables []T

	// Call stack: which[i] is the segment, where[i] the program counter
	// within it, for frame i < callDepth.
	which     []int64
	where     []int64
	callDepth int64

	doStack []doRecord
	doDepth int64

	// Recursion targets: the call depth each outer Run/Call/Step entry must
	// unwind to. Enables nested cooperative resume.
	targets []int64

	inputs  []InputBuffer
	outputs []OutputBuffer
	ready   bool

	err error

	countInstructions int64
	countReads        int64
	countWrites       int64
	countNanoseconds  int64
}

// Machine32 executes with 32-bit data cells, Machine64 with 64-bit cells.
type (
	Machine32 = Machine[int32]
	Machine64 = Machine[int64]
)

// NewMachine compiles source and builds a machine with the given limits.
func NewMachine[T Cell](source string, cfg Config) (*Machine[T], error) {
	if cfg.StackDepth < 1 || cfg.RecursionDepth < 1 {
		return nil, errors.New("stack depth and recursion depth must be at least 1")
	}
	if cfg.OutputInitialSize < 1 || cfg.OutputResizeFactor <= 1 {
		return nil, errors.New("output initial size must be at least 1 and the resize factor greater than 1")
	}
	prog, err := Compile(source)
	if err != nil {
		return nil, err
	}
	return &Machine[T]{
		id:        uuid.NewString(),
		source:    source,
		prog:      prog,
		cfg:       cfg,
		stack:     make([]T, cfg.StackDepth),
		variables: make([]T, len(prog.VariableNames)),
		which:     make([]int64, cfg.RecursionDepth),
		where:     make([]int64, cfg.RecursionDepth),
		doStack:   make([]doRecord, cfg.RecursionDepth),
	}, nil
}

func NewMachine32(source string, cfg Config) (*Machine32, error) {
	return NewMachine[int32](source, cfg)
}

func NewMachine64(source string, cfg Config) (*Machine64, error) {
	return NewMachine[int64](source, cfg)
}

// ID returns the machine instance identifier.
func (m *Machine[T]) ID() string { return m.id }

// Source returns the source text the machine was compiled from.
func (m *Machine[T]) Source() string { return m.source }

// Program returns the compiled bytecode image.
func (m *Machine[T]) Program() *Program { return m.prog }

// Decompiled renders the compiled program back to source form.
func (m *Machine[T]) Decompiled() string { return m.prog.Decompiled() }

// Dictionary returns the user-defined word names in declaration order.
func (m *Machine[T]) Dictionary() []string {
	return append([]string(nil), m.prog.DictionaryNames...)
}

func (m *Machine[T]) StackMaxDepth() int64      { return m.cfg.StackDepth }
func (m *Machine[T]) RecursionMaxDepth() int64  { return m.cfg.RecursionDepth }
func (m *Machine[T]) OutputInitialSize() int64  { return m.cfg.OutputInitialSize }
func (m *Machine[T]) OutputResizeFactor() float64 {
	return m.cfg.OutputResizeFactor
}

// Stack returns a snapshot of the data stack, bottom first.
func (m *Machine[T]) Stack() []T {
	return append([]T(nil), m.stack[:m.stackDepth]...)
}

// StackAt returns the cell fromTop positions below the top (0 = top).
func (m *Machine[T]) StackAt(fromTop int64) T {
	return m.stack[m.stackDepth-1-fromTop]
}

func (m *Machine[T]) StackDepth() int64 { return m.stackDepth }

func (m *Machine[T]) StackClear() { m.stackDepth = 0 }

// Variables returns a name-to-value snapshot of the variable cells.
func (m *Machine[T]) Variables() map[string]T {
	out := make(map[string]T, len(m.variables))
	for i, name := range m.prog.VariableNames {
		out[name] = m.variables[i]
	}
	return out
}

// VariableIndex returns the variable names in declaration order.
func (m *Machine[T]) VariableIndex() []string {
	return append([]string(nil), m.prog.VariableNames...)
}

func (m *Machine[T]) VariableAt(name string) (T, error) {
	idx, ok := m.prog.variableIndex(name)
	if !ok {
		var zero T
		return zero, fmt.Errorf("variable not found: %s", name)
	}
	return m.variables[idx], nil
}

func (m *Machine[T]) VariableAtIndex(index int64) T {
	return m.variables[index]
}

// InputPositionAt returns the current position of the named input.
func (m *Machine[T]) InputPositionAt(name string) (int64, error) {
	if !m.ready {
		return 0, errors.New("need to Begin or Run to assign inputs")
	}
	idx, ok := m.prog.inputIndex(name)
	if !ok {
		return 0, fmt.Errorf("input not found: %s", name)
	}
	return m.inputs[idx].Pos(), nil
}

// Outputs returns a name-to-buffer snapshot of the output buffers.
func (m *Machine[T]) Outputs() (map[string]OutputBuffer, error) {
	if !m.ready {
		return nil, errors.New("need to Begin or Run to create outputs")
	}
	out := make(map[string]OutputBuffer, len(m.outputs))
	for i, name := range m.prog.OutputNames {
		out[name] = m.outputs[i]
	}
	return out, nil
}

// OutputIndex returns the output names in declaration order.
func (m *Machine[T]) OutputIndex() []string {
	return append([]string(nil), m.prog.OutputNames...)
}

func (m *Machine[T]) OutputAt(name string) (OutputBuffer, error) {
	if !m.ready {
		return nil, errors.New("need to Begin or Run to create outputs")
	}
	idx, ok := m.prog.outputIndex(name)
	if !ok {
		return nil, fmt.Errorf("output not found: %s", name)
	}
	return m.outputs[idx], nil
}

func (m *Machine[T]) OutputAtIndex(index int64) OutputBuffer {
	return m.outputs[index]
}

// CurrentBytecodePosition returns the absolute position of the instruction
// about to execute, or -1 when no frame is active or the top segment just
// completed.
func (m *Machine[T]) CurrentBytecodePosition() int64 {
	if m.callDepth == 0 {
		return -1
	}
	which := m.which[m.callDepth-1]
	where := m.where[m.callDepth-1]
	if where < m.prog.SegmentLength(which) {
		return m.prog.Offsets[which] + where
	}
	return -1
}

// CurrentRecursionDepth returns the call depth relative to the innermost
// Run/Call/Step entry, or -1 when the machine is not running.
func (m *Machine[T]) CurrentRecursionDepth() int64 {
	if len(m.targets) == 0 {
		return -1
	}
	return m.callDepth - m.targets[len(m.targets)-1]
}

// CurrentInstruction renders the instruction about to execute.
func (m *Machine[T]) CurrentInstruction() (string, error) {
	pos := m.CurrentBytecodePosition()
	if pos == -1 {
		return "", errors.New("reached the end of the program or segment; call Begin to run again")
	}
	return m.prog.DecompiledAt(pos, "")
}

func (m *Machine[T]) IsReady() bool { return m.ready }

// IsDone reports whether the program ran to the end of segment 0.
func (m *Machine[T]) IsDone() bool {
	return m.ready && m.callDepth == 0
}

func (m *Machine[T]) CountInstructions() int64 { return m.countInstructions }
func (m *Machine[T]) CountReads() int64        { return m.countReads }
func (m *Machine[T]) CountWrites() int64       { return m.countWrites }
func (m *Machine[T]) CountNanoseconds() int64  { return m.countNanoseconds }

func (m *Machine[T]) CountReset() {
	m.countInstructions = 0
	m.countReads = 0
	m.countWrites = 0
	m.countNanoseconds = 0
}

// Err returns the error register (nil when no fault is pending).
func (m *Machine[T]) Err() error { return m.err }

// MaybeThrow returns the pending fault unless it is in the ignore set.
func (m *Machine[T]) MaybeThrow(ignore ...error) error {
	if m.err == nil {
		return nil
	}
	for _, ig := range ignore {
		if errors.Is(m.err, ig) {
			return nil
		}
	}
	return m.err
}

// Reset clears all runtime state: stacks, variables, bound inputs, outputs,
// and the error register. The compiled program is untouched.
func (m *Machine[T]) Reset() {
	m.stackDepth = 0
	for i := range m.variables {
		m.variables[i] = 0
	}
	m.inputs = nil
	m.outputs = nil
	m.ready = false
	m.callDepth = 0
	m.doDepth = 0
	m.targets = m.targets[:0]
	m.err = nil
}

// Begin resets the machine, binds the declared inputs by name, allocates
// one output buffer per declaration, and positions the program counter at
// the start of segment 0. Every declared input must be provided.
func (m *Machine[T]) Begin(inputs map[string]InputBuffer) error {
	m.Reset()

	m.inputs = make([]InputBuffer, 0, len(m.prog.InputNames))
	for _, name := range m.prog.InputNames {
		in, ok := inputs[name]
		if !ok {
			return fmt.Errorf("source code defines an input that was not provided: %s", name)
		}
		m.inputs = append(m.inputs, in)
	}

	m.outputs = make([]OutputBuffer, 0, len(m.prog.OutputNames))
	for i := range m.prog.OutputNames {
		m.outputs = append(m.outputs, newOutputBuffer(
			m.prog.OutputDtypes[i], m.cfg.OutputInitialSize, m.cfg.OutputResizeFactor))
	}

	m.targets = append(m.targets, 0)
	m.pushFrame(0)
	m.ready = true
	return nil
}

// Run begins and executes the program to completion (or to the first fault
// or pause). inputs may be nil when the program declares none.
func (m *Machine[T]) Run(inputs map[string]InputBuffer) error {
	if err := m.Begin(inputs); err != nil {
		return err
	}
	return m.drive(false)
}

// Step executes exactly one instruction, carrying along segment-pop and
// loop-increment bookkeeping, and returns.
func (m *Machine[T]) Step() error {
	if m.err != nil {
		return m.err
	}
	if !m.ready {
		m.err = ErrNotReady
		return m.err
	}
	if m.IsDone() {
		m.err = ErrIsDone
		return m.err
	}
	return m.drive(true)
}

// Resume continues execution after a pause or a Step.
func (m *Machine[T]) Resume() error {
	if m.err != nil {
		return m.err
	}
	if !m.ready {
		m.err = ErrNotReady
		return m.err
	}
	if m.IsDone() {
		m.err = ErrIsDone
		return m.err
	}
	return m.drive(false)
}

// Call runs a named dictionary word as a subroutine, retaining the caller's
// stack, variables, inputs, and outputs.
func (m *Machine[T]) Call(name string) error {
	idx, ok := m.prog.dictionaryIndex(name)
	if !ok {
		return fmt.Errorf("unrecognized word: %s", name)
	}
	return m.CallIndex(int64(idx))
}

// CallIndex runs the dictionary word with the given index as a subroutine.
func (m *Machine[T]) CallIndex(index int64) error {
	if m.err != nil {
		return m.err
	}
	if !m.ready {
		m.err = ErrNotReady
		return m.err
	}
	if m.callDepth == m.cfg.RecursionDepth {
		m.err = ErrRecursionDepthExceeded
		return m.err
	}
	m.targets = append(m.targets, m.callDepth)
	m.pushFrame(int64(m.prog.DictionaryRefs[index]) - int64(OP_DICT_BASE))
	return m.drive(false)
}

// drive runs the dispatch loop until the innermost recursion target is
// reached, then retires that target.
func (m *Machine[T]) drive(singleStep bool) error {
	target := m.targets[len(m.targets)-1]

	started := time.Now()
	m.internalRun(singleStep, target)
	m.countNanoseconds += time.Since(started).Nanoseconds()

	if len(m.targets) != 0 && m.callDepth == m.targets[len(m.targets)-1] {
		m.targets = m.targets[:len(m.targets)-1]
	}
	return m.err
}

func (m *Machine[T]) pushFrame(segment int64) {
	m.which[m.callDepth] = segment
	m.where[m.callDepth] = 0
	m.callDepth++
}
