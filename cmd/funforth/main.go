package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/funvibe/funforth/internal/config"
	"github.com/funvibe/funforth/internal/vm"
)

const usage = `funforth - a Forth-dialect VM for decoding binary inputs into typed columns

Usage:
  funforth run <prog.fs | job.yaml> [flags]
  funforth disasm <prog.fs>

Flags for run:
  --cell 32|64            data-cell width (default 64)
  --stack-depth N         max data-stack depth
  --recursion-depth N     max call/do-stack depth
  --input name=path       bind an input to a file (repeatable)
  --verbose               print machine id and counters
`

// jobSpec is the YAML job-file form of the run command.
type jobSpec struct {
	Source             string            `yaml:"source"`
	Cell               int               `yaml:"cell"`
	StackDepth         int64             `yaml:"stack_depth"`
	RecursionDepth     int64             `yaml:"recursion_depth"`
	OutputInitialSize  int64             `yaml:"output_initial_size"`
	OutputResizeFactor float64           `yaml:"output_resize_factor"`
	Inputs             map[string]string `yaml:"inputs"`
	Print              []string          `yaml:"print"`
	Verbose            bool              `yaml:"verbose"`
}

// isSourceFile checks if a file has a recognized source extension
func isSourceFile(path string) bool {
	for _, ext := range config.SourceFileExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func isYamlFile(path string) bool {
	return strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
}

func fail(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		msg = "\x1b[31m" + msg + "\x1b[0m"
	}
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 3 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runCommand(os.Args[2], os.Args[3:])
	case "disasm":
		disasmCommand(os.Args[2])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func parseJob(path string, flags []string) *jobSpec {
	job := &jobSpec{Inputs: map[string]string{}}

	if isYamlFile(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			fail("cannot read job file: %v", err)
		}
		if err := yaml.Unmarshal(data, job); err != nil {
			fail("cannot parse job file: %v", err)
		}
		if job.Source == "" {
			fail("job file %s does not name a source file", path)
		}
	} else {
		job.Source = path
	}

	for i := 0; i < len(flags); i++ {
		arg := flags[i]
		value := func() string {
			i++
			if i >= len(flags) {
				fail("flag %s needs a value", arg)
			}
			return flags[i]
		}
		switch arg {
		case "--cell":
			n, err := strconv.Atoi(value())
			if err != nil || (n != 32 && n != 64) {
				fail("--cell must be 32 or 64")
			}
			job.Cell = n
		case "--stack-depth":
			job.StackDepth, _ = strconv.ParseInt(value(), 10, 64)
		case "--recursion-depth":
			job.RecursionDepth, _ = strconv.ParseInt(value(), 10, 64)
		case "--input":
			pair := strings.SplitN(value(), "=", 2)
			if len(pair) != 2 {
				fail("--input must look like name=path")
			}
			job.Inputs[pair[0]] = pair[1]
		case "--verbose":
			job.Verbose = true
		default:
			fail("unknown flag: %s", arg)
		}
	}
	return job
}

func runCommand(path string, flags []string) {
	job := parseJob(path, flags)

	if !isSourceFile(job.Source) {
		fmt.Fprintf(os.Stderr, "warning: %s does not have a recognized source extension\n", job.Source)
	}
	source, err := os.ReadFile(job.Source)
	if err != nil {
		fail("cannot read source: %v", err)
	}

	inputs := make(map[string]vm.InputBuffer, len(job.Inputs))
	for name, inputPath := range job.Inputs {
		data, err := os.ReadFile(inputPath)
		if err != nil {
			fail("cannot read input %s: %v", name, err)
		}
		inputs[name] = vm.NewInput(data)
	}

	if job.Cell == 32 {
		err = runJob[int32](job, string(source), inputs)
	} else {
		err = runJob[int64](job, string(source), inputs)
	}
	if err != nil {
		fail("%v", err)
	}
}

func machineConfig(job *jobSpec) vm.Config {
	cfg := vm.DefaultConfig()
	if job.StackDepth > 0 {
		cfg.StackDepth = job.StackDepth
	}
	if job.RecursionDepth > 0 {
		cfg.RecursionDepth = job.RecursionDepth
	}
	if job.OutputInitialSize > 0 {
		cfg.OutputInitialSize = job.OutputInitialSize
	}
	if job.OutputResizeFactor > 1 {
		cfg.OutputResizeFactor = job.OutputResizeFactor
	}
	return cfg
}

func runJob[T vm.Cell](job *jobSpec, source string, inputs map[string]vm.InputBuffer) error {
	m, err := vm.NewMachine[T](source, machineConfig(job))
	if err != nil {
		return err
	}
	if job.Verbose {
		fmt.Fprintf(os.Stderr, "machine %s\n", m.ID())
	}

	if err := m.Run(inputs); err != nil {
		return err
	}

	fmt.Printf("stack: %v\n", m.Stack())
	for _, name := range m.VariableIndex() {
		value, _ := m.VariableAt(name)
		fmt.Printf("variable %s = %d\n", name, value)
	}

	names := job.Print
	if len(names) == 0 {
		names = m.OutputIndex()
	}
	for _, name := range names {
		buf, err := m.OutputAt(name)
		if err != nil {
			return err
		}
		fmt.Printf("output %s %s = %s\n", name, buf.Dtype(), buf)
	}

	if job.Verbose {
		fmt.Fprintf(os.Stderr, "instructions: %d reads: %d writes: %d ns: %d\n",
			m.CountInstructions(), m.CountReads(), m.CountWrites(), m.CountNanoseconds())
	}
	return nil
}

func disasmCommand(path string) {
	source, err := os.ReadFile(path)
	if err != nil {
		fail("cannot read source: %v", err)
	}
	prog, err := vm.Compile(string(source))
	if err != nil {
		fail("%v", err)
	}
	fmt.Println(prog.Decompiled())
	fmt.Print(vm.Disassemble(prog))
}
