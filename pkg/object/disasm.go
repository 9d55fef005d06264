package object

import (
	"fmt"
	"strings"

	"github.com/kristofer/smogvm/pkg/bytecode"
)

// Disassemble renders a Function's instruction stream as one line of
// mnemonic + decoded operand per instruction, recursing into any nested
// Function constants so a single call dumps a whole compilation unit.
// This lives in pkg/object rather than pkg/bytecode because it walks
// object.Code's constant pool, and bytecode cannot import object without
// a cycle.
func Disassemble(fn *Function) string {
	label := "<main>"
	if fn.Name != nil {
		label = fn.Name.Go()
	}
	var b strings.Builder
	disassembleFn(&b, fn, label)
	return b.String()
}

func disassembleFn(b *strings.Builder, fn *Function, label string) {
	fmt.Fprintf(b, "== %s ==\n", label)
	code := fn.Code
	ins := code.Instructions
	for i := 0; i < len(ins); {
		op := bytecode.Opcode(ins[i])
		fmt.Fprintf(b, "%4d  %-14s", i, op.String())
		i++
		switch op {
		case bytecode.OpClosure:
			idx := bytecode.U16(ins, i)
			i += 2
			fmt.Fprintf(b, " %d", idx)
			if child, ok := code.Constants[idx].AsObject().(*Function); ok {
				for u := 0; u < child.UpvalCount; u++ {
					isLocal, slot := ins[i], ins[i+1]
					i += 2
					origin := "upvalue"
					if isLocal == 1 {
						origin = "local"
					}
					fmt.Fprintf(b, " (%s %d)", origin, slot)
				}
			}
		case bytecode.OpInvoke, bytecode.OpInvokeUnpack, bytecode.OpSuper, bytecode.OpSuperUnpack:
			argc := ins[i]
			i++
			symIdx := bytecode.U16(ins, i)
			i += 2
			fmt.Fprintf(b, " argc=%d sym=%d", argc, symIdx)
		case bytecode.OpNatMethod, bytecode.OpImportAs, bytecode.OpImportName:
			a := bytecode.U16(ins, i)
			i += 2
			c := bytecode.U16(ins, i)
			i += 2
			fmt.Fprintf(b, " %d %d", a, c)
		default:
			widths := op.OperandWidths()
			for _, w := range widths {
				switch w {
				case 1:
					fmt.Fprintf(b, " %d", ins[i])
				case 2:
					fmt.Fprintf(b, " %d", bytecode.U16(ins, i))
				}
				i += w
			}
		}
		fmt.Fprintln(b)
	}
	for idx, c := range code.Constants {
		if child, ok := c.AsObject().(*Function); ok {
			childLabel := "<anonymous>"
			if child.Name != nil {
				childLabel = child.Name.Go()
			}
			b.WriteString("\n")
			disassembleFn(b, child, fmt.Sprintf("%s (const %d: %s)", label, idx, childLabel))
		}
	}
}
