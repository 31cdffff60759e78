// Package funforth provides a high-level embedding API for the funforth
// machine: a Forth-dialect VM that decodes structured binary inputs into
// typed columnar outputs.
package funforth

import (
	"fmt"

	"github.com/funvibe/funforth/internal/vm"
)

// Options configure machine limits. Zero fields take the defaults.
type Options struct {
	StackDepth         int64
	RecursionDepth     int64
	OutputInitialSize  int64
	OutputResizeFactor float64
}

func (o Options) config() vm.Config {
	cfg := vm.DefaultConfig()
	if o.StackDepth > 0 {
		cfg.StackDepth = o.StackDepth
	}
	if o.RecursionDepth > 0 {
		cfg.RecursionDepth = o.RecursionDepth
	}
	if o.OutputInitialSize > 0 {
		cfg.OutputInitialSize = o.OutputInitialSize
	}
	if o.OutputResizeFactor > 0 {
		cfg.OutputResizeFactor = o.OutputResizeFactor
	}
	return cfg
}

// Machine wraps the underlying funforth VM and provides a high-level
// embedding API. Inputs are plain byte slices; outputs are typed columns.
type Machine[T vm.Cell] struct {
	m *vm.Machine[T]
}

// Machine32 runs with 32-bit data cells, Machine64 with 64-bit cells.
type (
	Machine32 = Machine[int32]
	Machine64 = Machine[int64]
)

// New32 compiles source into a machine with 32-bit data cells.
func New32(source string, opts Options) (*Machine32, error) {
	m, err := vm.NewMachine[int32](source, opts.config())
	if err != nil {
		return nil, err
	}
	return &Machine32{m: m}, nil
}

// New64 compiles source into a machine with 64-bit data cells.
func New64(source string, opts Options) (*Machine64, error) {
	m, err := vm.NewMachine[int64](source, opts.config())
	if err != nil {
		return nil, err
	}
	return &Machine64{m: m}, nil
}

func inputBuffers(inputs map[string][]byte) map[string]vm.InputBuffer {
	out := make(map[string]vm.InputBuffer, len(inputs))
	for name, data := range inputs {
		out[name] = vm.NewInput(data)
	}
	return out
}

// Begin resets the machine and binds the named inputs without running.
func (m *Machine[T]) Begin(inputs map[string][]byte) error {
	return m.m.Begin(inputBuffers(inputs))
}

// Run binds the named inputs and executes the program to completion, a
// fault, or a pause.
func (m *Machine[T]) Run(inputs map[string][]byte) error {
	return m.m.Run(inputBuffers(inputs))
}

// Step executes exactly one instruction.
func (m *Machine[T]) Step() error { return m.m.Step() }

// Resume continues execution after a pause or a Step.
func (m *Machine[T]) Resume() error { return m.m.Resume() }

// Call runs a named dictionary word as a subroutine, retaining the current
// stack, variables, inputs, and outputs.
func (m *Machine[T]) Call(name string) error { return m.m.Call(name) }

// Reset clears all runtime state; the compiled program is untouched.
func (m *Machine[T]) Reset() { m.m.Reset() }

func (m *Machine[T]) ID() string         { return m.m.ID() }
func (m *Machine[T]) Source() string     { return m.m.Source() }
func (m *Machine[T]) Decompiled() string { return m.m.Decompiled() }

// Dictionary returns the user-defined word names in declaration order.
func (m *Machine[T]) Dictionary() []string { return m.m.Dictionary() }

// Stack returns a snapshot of the data stack, bottom first.
func (m *Machine[T]) Stack() []T        { return m.m.Stack() }
func (m *Machine[T]) StackDepth() int64 { return m.m.StackDepth() }
func (m *Machine[T]) StackClear()       { m.m.StackClear() }

// Variables returns a name-to-value snapshot of the variable cells.
func (m *Machine[T]) Variables() map[string]T { return m.m.Variables() }

func (m *Machine[T]) VariableAt(name string) (T, error) { return m.m.VariableAt(name) }

// InputPositionAt returns the current position of the named input.
func (m *Machine[T]) InputPositionAt(name string) (int64, error) {
	return m.m.InputPositionAt(name)
}

// Output returns the named output buffer.
func (m *Machine[T]) Output(name string) (vm.OutputBuffer, error) {
	return m.m.OutputAt(name)
}

// OutputNames returns the output names in declaration order.
func (m *Machine[T]) OutputNames() []string { return m.m.OutputIndex() }

func (m *Machine[T]) IsReady() bool { return m.m.IsReady() }
func (m *Machine[T]) IsDone() bool  { return m.m.IsDone() }

// CurrentInstruction renders the instruction about to execute.
func (m *Machine[T]) CurrentInstruction() (string, error) {
	return m.m.CurrentInstruction()
}

func (m *Machine[T]) CountInstructions() int64 { return m.m.CountInstructions() }
func (m *Machine[T]) CountReads() int64        { return m.m.CountReads() }
func (m *Machine[T]) CountWrites() int64       { return m.m.CountWrites() }
func (m *Machine[T]) CountNanoseconds() int64  { return m.m.CountNanoseconds() }
func (m *Machine[T]) CountReset()              { m.m.CountReset() }

// Err returns the pending fault, if any.
func (m *Machine[T]) Err() error { return m.m.Err() }

// MaybeThrow returns the pending fault unless it is in the ignore set.
func (m *Machine[T]) MaybeThrow(ignore ...error) error {
	return m.m.MaybeThrow(ignore...)
}

// OutputValues returns the values of a numeric output, which must have been
// declared with the matching dtype (int32 for V=int32, and so on).
func OutputValues[V vm.Number, T vm.Cell](m *Machine[T], name string) ([]V, error) {
	buf, err := m.m.OutputAt(name)
	if err != nil {
		return nil, err
	}
	o, ok := buf.(*vm.NumericOutput[V])
	if !ok {
		return nil, fmt.Errorf("output %s has dtype %s", name, buf.Dtype())
	}
	return o.Values(), nil
}

// OutputBools returns the values of a bool output.
func OutputBools[T vm.Cell](m *Machine[T], name string) ([]bool, error) {
	buf, err := m.m.OutputAt(name)
	if err != nil {
		return nil, err
	}
	o, ok := buf.(*vm.BoolOutput)
	if !ok {
		return nil, fmt.Errorf("output %s has dtype %s", name, buf.Dtype())
	}
	return o.Values(), nil
}
