// Command smog is the command-line entry point: run a source file,
// compile it (checking for errors without executing), or disassemble
// its compiled bytecode.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kristofer/smogvm/pkg/compiler"
	"github.com/kristofer/smogvm/pkg/corelib"
	"github.com/kristofer/smogvm/pkg/object"
	"github.com/kristofer/smogvm/pkg/parser"
	"github.com/kristofer/smogvm/pkg/vm"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		fmt.Printf("smog version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	case "run":
		requireFile("run", "smog run <file.smog>")
		runFile(os.Args[2])
	case "compile":
		requireFile("compile", "smog compile <file.smog>")
		compileFile(os.Args[2])
	case "disassemble", "disasm":
		requireFile("disassemble", "smog disassemble <file.smog>")
		disassembleFile(os.Args[2])
	default:
		runFile(os.Args[1])
	}
}

func requireFile(cmd, usage string) {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Error: no file specified for %q\n\nUsage: %s\n", cmd, usage)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("smog - a small dynamically-typed scripting language")
	fmt.Println("\nUsage:")
	fmt.Println("  smog <file.smog>           Run a source file")
	fmt.Println("  smog run <file.smog>       Run a source file")
	fmt.Println("  smog compile <file.smog>   Parse and compile, reporting errors without running")
	fmt.Println("  smog disassemble <file>    Compile and print the bytecode disassembly")
	fmt.Println("  smog version               Show version")
	fmt.Println("  smog help                  Show this help")
}

// compileProgram reads, parses, and compiles a source file into a fresh
// Module, wiring the corelib class hierarchy and globals into both the
// VM and the module before returning. It never Runs the result.
func compileProgram(filename string) (*vm.VM, *object.Module, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", filename, err)
	}

	p := parser.New(string(data))
	program, err := p.Parse()
	if err != nil {
		return nil, nil, fmt.Errorf("parse error: %w", err)
	}
	if errs := p.Errors(); len(errs) > 0 {
		return nil, nil, fmt.Errorf("parse errors: %v", errs)
	}

	heap := object.NewHeap()
	modName := moduleNameFor(filename)
	module := object.NewModule(heap.Intern(modName))

	registry := corelib.Bootstrap(heap)
	for name, v := range registry.Globals {
		module.SetGlobal(name, v)
	}

	if _, err := compiler.Compile(program, heap, module); err != nil {
		return nil, nil, fmt.Errorf("compile error: %w", err)
	}

	m := vm.New(heap, module)
	for name, cls := range registry.Classes {
		m.RegisterCoreClass(name, cls)
	}
	m.SetLoader(newFileLoader(filepath.Dir(filename), heap, registry))

	return m, module, nil
}

func moduleNameFor(filename string) string {
	base := filepath.Base(filename)
	return base[:len(base)-len(filepath.Ext(base))]
}

func runFile(filename string) {
	m, _, err := compileProgram(filename)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if _, err := m.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func compileFile(filename string) {
	if _, _, err := compileProgram(filename); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("%s compiled cleanly\n", filename)
}

func disassembleFile(filename string) {
	_, module, err := compileProgram(filename)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Print(object.Disassemble(module.Main))
}

// fileLoader resolves `import name` to <dir>/<name>.smog, compiling it
// with the same corelib registry the importing module was built
// against, so a program's modules share one class hierarchy and global
// set no matter how deep the import chain goes.
type fileLoader struct {
	dir      string
	heap     *object.Heap
	registry *corelib.Registry
	loading  map[string]bool
}

func newFileLoader(dir string, heap *object.Heap, registry *corelib.Registry) *fileLoader {
	return &fileLoader{dir: dir, heap: heap, registry: registry, loading: make(map[string]bool)}
}

func (l *fileLoader) Load(name string) (*object.Module, error) {
	if l.loading[name] {
		return nil, fmt.Errorf("circular import: %s", name)
	}
	path := filepath.Join(l.dir, name+".smog")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("import %q: %w", name, err)
	}

	p := parser.New(string(data))
	program, err := p.Parse()
	if err != nil {
		return nil, fmt.Errorf("import %q: parse error: %w", name, err)
	}
	if errs := p.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("import %q: parse errors: %v", name, errs)
	}

	module := object.NewModule(l.heap.Intern(name))
	for gname, v := range l.registry.Globals {
		module.SetGlobal(gname, v)
	}

	l.loading[name] = true
	defer delete(l.loading, name)
	if _, err := compiler.Compile(program, l.heap, module); err != nil {
		return nil, fmt.Errorf("import %q: compile error: %w", name, err)
	}
	return module, nil
}
