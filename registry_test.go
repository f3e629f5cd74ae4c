package bincore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xyproto/bincore"
	"github.com/xyproto/bincore/instrumenttest"
)

func newTestContext(word bincore.WordSize) (*bincore.Context, *instrumenttest.FakeDisassembler, *instrumenttest.FakeImage) {
	dis := instrumenttest.NewFakeDisassembler()
	img := instrumenttest.NewFakeImage(word, 0x500000)
	img.Exec = []bincore.AddrRange{{Start: 0x1000, End: 0x2000}}
	ctx := bincore.NewContext(img, dis)
	return ctx, dis, img
}

func TestRegisterRejectsOutOfExecRange(t *testing.T) {
	ctx, dis, _ := newTestContext(bincore.Word64)
	dis.AddInstruction(0x9000, []byte{0x90}, bincore.InstructionKind{})

	reg := bincore.NewPointRegistry(ctx)
	point := bincore.NewPoint(bincore.Instruction{Addr: 0x9000, Length: 1}, bincore.NewSnippet(),
		bincore.Replace, bincore.FlagsNone, bincore.Trampolined, bincore.Regular)

	err := reg.Register(point)
	require.Error(t, err)
	var coreErr *bincore.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, bincore.UnsafeOverwrite, coreErr.Kind)
}

func TestRegisterRejectsDuplicatePriorityAtSameAddress(t *testing.T) {
	ctx, dis, _ := newTestContext(bincore.Word64)
	for i := 0; i < 8; i++ {
		dis.AddInstruction(bincore.Address(0x1000+i), []byte{0x90}, bincore.InstructionKind{})
	}

	reg := bincore.NewPointRegistry(ctx)
	mkPoint := func() *bincore.InstrumentationPoint {
		return bincore.NewPoint(bincore.Instruction{Addr: 0x1000, Length: 1}, bincore.NewSnippet(),
			bincore.Replace, bincore.FlagsNone, bincore.Trampolined, bincore.Regular)
	}

	require.NoError(t, reg.Register(mkPoint()))
	err := reg.Register(mkPoint())
	require.Error(t, err)
	var coreErr *bincore.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, bincore.DuplicatePriorityAtAddress, coreErr.Kind)
}

func TestRegisterRejectsAfterFreeze(t *testing.T) {
	ctx, dis, _ := newTestContext(bincore.Word64)
	for i := 0; i < 8; i++ {
		dis.AddInstruction(bincore.Address(0x1000+i), []byte{0x90}, bincore.InstructionKind{})
	}

	reg := bincore.NewPointRegistry(ctx)
	reg.Freeze()

	point := bincore.NewPoint(bincore.Instruction{Addr: 0x1000, Length: 1}, bincore.NewSnippet(),
		bincore.Replace, bincore.FlagsNone, bincore.Trampolined, bincore.Regular)
	err := reg.Register(point)
	require.Error(t, err)
	var coreErr *bincore.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, bincore.RegistryFrozen, coreErr.Kind)
}

func TestRegisterRejectsOverwriteThatClobbersABranchTarget(t *testing.T) {
	ctx, dis, img := newTestContext(bincore.Word64)
	for i := 0; i < 8; i++ {
		dis.AddInstruction(bincore.Address(0x1000+i), []byte{0x90}, bincore.InstructionKind{})
	}
	img.Branches[0x1001] = true

	reg := bincore.NewPointRegistry(ctx)
	point := bincore.NewPoint(bincore.Instruction{Addr: 0x1000, Length: 1}, bincore.NewSnippet(),
		bincore.Replace, bincore.FlagsNone, bincore.Trampolined, bincore.Regular)

	err := reg.Register(point)
	require.Error(t, err)
	var coreErr *bincore.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, bincore.UnsafeOverwrite, coreErr.Kind)
}

func TestPointsAtOrdersByPriorityAscending(t *testing.T) {
	ctx, dis, _ := newTestContext(bincore.Word64)
	for i := 0; i < 8; i++ {
		dis.AddInstruction(bincore.Address(0x1000+i), []byte{0x90}, bincore.InstructionKind{})
	}

	reg := bincore.NewPointRegistry(ctx)
	regular := bincore.NewPoint(bincore.Instruction{Addr: 0x1000, Length: 1}, bincore.NewSnippet(),
		bincore.Replace, bincore.FlagsNone, bincore.Trampolined, bincore.Regular)
	sysInit := bincore.NewPoint(bincore.Instruction{Addr: 0x1000, Length: 1}, bincore.NewSnippet(),
		bincore.Replace, bincore.FlagsNone, bincore.Trampolined, bincore.SysInit)

	require.NoError(t, reg.Register(regular))
	require.NoError(t, reg.Register(sysInit))

	pts := reg.PointsAt(0x1000)
	require.Len(t, pts, 2)
	assert.Equal(t, bincore.SysInit, pts[0].Priority)
	assert.Equal(t, bincore.Regular, pts[1].Priority)
}
