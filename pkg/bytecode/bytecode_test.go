package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpcodeStrings(t *testing.T) {
	assert.Equal(t, "ADD", OpAdd.String())
	assert.Equal(t, "INVOKE", OpInvoke.String())
	assert.Equal(t, "UNKNOWN", Opcode(255).String())
}

func TestOperandWidths(t *testing.T) {
	assert.Equal(t, []int{1}, OpCall.OperandWidths())
	assert.Equal(t, []int{2}, OpGetConst.OperandWidths())
	assert.Equal(t, []int{1, 2}, OpInvoke.OperandWidths())
	assert.Nil(t, OpPop.OperandWidths())
}

func TestU16RoundTrip(t *testing.T) {
	b := make([]byte, 2)
	PutU16(b, 0, 0xBEEF)
	assert.Equal(t, uint16(0xBEEF), U16(b, 0))
}

func TestI16RoundTrip(t *testing.T) {
	b := make([]byte, 2)
	PutI16(b, 0, -100)
	assert.Equal(t, int16(-100), I16(b, 0))
}
