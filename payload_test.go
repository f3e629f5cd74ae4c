package bincore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xyproto/bincore"
)

func TestSnippetEntryPointBeforeLayoutErrors(t *testing.T) {
	s := bincore.NewSnippet()
	_, err := s.EntryPoint()
	assert.Error(t, err)
}

func TestSnippetSizeNeededCountsBootstrapBodyAndData(t *testing.T) {
	s := bincore.NewSnippet()
	s.AddInstruction([]byte{0x90})
	s.AddInstruction([]byte{0x90, 0x90})
	cell := s.ReserveData(8)

	withoutBootstrap := s.SizeNeeded(bincore.Word64)
	// body (3 instruction bytes + 5-byte mandatory jump) + 8-byte cell.
	assert.Equal(t, 3+bincore.SizeUncondJump+8, withoutBootstrap)

	s.EnableBootstrap()
	withBootstrap := s.SizeNeeded(bincore.Word64)
	assert.Greater(t, withBootstrap, withoutBootstrap)

	off, err := s.CellOffset(cell)
	require.NoError(t, err)
	assert.Equal(t, 0, off)
}

func TestSnippetCellOffsetUnknownIDErrors(t *testing.T) {
	s := bincore.NewSnippet()
	_, err := s.CellOffset(bincore.DataCellID(99))
	assert.Error(t, err)
}

func TestSnippetAddBootstrapInstructionGrowsSizeByInitLength(t *testing.T) {
	s := bincore.NewSnippet()
	s.AddInstruction([]byte{0x90})
	s.EnableBootstrap()

	withoutInit := s.SizeNeeded(bincore.Word64)

	s.AddBootstrapInstruction([]byte{0xB8, 0x01, 0x00, 0x00, 0x00}) // mov eax, 1
	withInit := s.SizeNeeded(bincore.Word64)
	assert.Equal(t, withoutInit+5, withInit)
}

func TestSnippetEnableBootstrapIsIdempotent(t *testing.T) {
	s := bincore.NewSnippet()
	s.EnableBootstrap()
	size1 := s.SizeNeeded(bincore.Word64)
	s.EnableBootstrap()
	size2 := s.SizeNeeded(bincore.Word64)
	assert.Equal(t, size1, size2)
}

func TestFunctionCallEntryPointBeforeLayoutErrors(t *testing.T) {
	fc := bincore.NewFunctionCall("printf")
	_, err := fc.EntryPoint()
	assert.Error(t, err)
}

func TestFunctionCallSizeNeededGrowsWithArguments(t *testing.T) {
	noArgs := bincore.NewFunctionCall("myCounter")
	twoArgs := bincore.NewFunctionCall("myCounter", bincore.Argument{Value: 1}, bincore.Argument{Value: 2})

	assert.Less(t, noArgs.SizeNeeded(bincore.Word64), twoArgs.SizeNeeded(bincore.Word64))
}
