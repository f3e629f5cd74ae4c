package bincore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xyproto/bincore"
	"github.com/xyproto/bincore/instrumenttest"
)

// registerNops registers n consecutive one-byte fake instructions
// starting at addr, enough for a Trampolined point's 5-byte overwrite
// region to find real instruction boundaries to absorb.
func registerNops(dis *instrumenttest.FakeDisassembler, addr bincore.Address, n int) {
	for i := 0; i < n; i++ {
		dis.AddInstruction(addr+bincore.Address(i), []byte{0x90}, bincore.InstructionKind{})
	}
}

// Scenario A — single snippet, no flags protection.
func TestLayoutScenarioASingleSnippetNoFlags(t *testing.T) {
	ctx, dis, img := newTestContext(bincore.Word64)
	img.Exec = []bincore.AddrRange{{Start: 0x1000, End: 0x2000}}
	registerNops(dis, 0x1000, 8)

	payload := bincore.NewSnippet()
	payload.AddInstruction([]byte{0x90})

	point := bincore.NewPoint(bincore.Instruction{Addr: 0x1000, Length: 1}, payload,
		bincore.Replace, bincore.FlagsNone, bincore.Trampolined, bincore.Regular)

	reg := bincore.NewPointRegistry(ctx)
	require.NoError(t, reg.Register(point))

	layout := bincore.NewLayout(ctx, reg)
	require.NoError(t, layout.Run())
	require.NoError(t, layout.Verify())

	patch, ok := layout.PatchFor(0x1000)
	require.True(t, ok)
	require.Len(t, patch, point.NumberOfBytes())
	assert.Equal(t, byte(0xE9), patch[0])

	out := instrumenttest.NewFakeOutput()
	em := bincore.NewEmitter(ctx, layout)
	require.NoError(t, em.Emit(out, instrumenttest.IdentityOffset))
	assert.Equal(t, patch, out.At(0x1000))
}

// Scenario B — SysInit and Regular priorities chain at the same address.
func TestLayoutScenarioBPriorityChaining(t *testing.T) {
	ctx, dis, img := newTestContext(bincore.Word64)
	img.Exec = []bincore.AddrRange{{Start: 0x2000, End: 0x3000}}
	registerNops(dis, 0x2000, 8)

	sysPayload := bincore.NewSnippet()
	sysPayload.AddInstruction([]byte{0x90})
	regPayload := bincore.NewSnippet()
	regPayload.AddInstruction([]byte{0x90})

	sysPoint := bincore.NewPoint(bincore.Instruction{Addr: 0x2000, Length: 1}, sysPayload,
		bincore.Replace, bincore.FlagsNone, bincore.Trampolined, bincore.SysInit)
	regPoint := bincore.NewPoint(bincore.Instruction{Addr: 0x2000, Length: 1}, regPayload,
		bincore.Replace, bincore.FlagsNone, bincore.Trampolined, bincore.Regular)

	reg := bincore.NewPointRegistry(ctx)
	require.NoError(t, reg.Register(regPoint))
	require.NoError(t, reg.Register(sysPoint))

	pts := reg.PointsAt(0x2000)
	require.Len(t, pts, 2)
	assert.Equal(t, bincore.SysInit, pts[0].Priority)
	assert.Equal(t, bincore.Regular, pts[1].Priority)

	layout := bincore.NewLayout(ctx, reg)
	require.NoError(t, layout.Run())
	require.NoError(t, layout.Verify())
}

// Scenario C — 64-bit function call with two arguments and a dynamic
// (non-statically-linked) bootstrap.
func TestLayoutScenarioCFunctionCallTwoArgumentsBootstrap(t *testing.T) {
	ctx, dis, img := newTestContext(bincore.Word64)
	img.Exec = []bincore.AddrRange{{Start: 0x4000, End: 0x5000}}
	img.PLTBase = 0x7f0000
	registerNops(dis, 0x4000, 8)
	// Deliberately not present in img.Symbols, so resolveLinkage leaves
	// the callee dynamic and the bootstrap/resolved-entry path is used.

	payload := bincore.NewFunctionCall("myCounter",
		bincore.Argument{Value: 1}, bincore.Argument{Value: 2})

	point := bincore.NewPoint(bincore.Instruction{Addr: 0x4000, Length: 1}, payload,
		bincore.Replace, bincore.FlagsFull, bincore.Trampolined, bincore.Regular)

	reg := bincore.NewPointRegistry(ctx)
	require.NoError(t, reg.Register(point))

	layout := bincore.NewLayout(ctx, reg)
	require.NoError(t, layout.Run())
	require.NoError(t, layout.Verify())

	entry, err := payload.EntryPoint()
	require.NoError(t, err)
	assert.NotZero(t, entry)
}

// Scenario D — 32-bit Light flags protection reserves exactly 12 bytes.
func TestLayoutScenarioDLightFlags32BitBudget(t *testing.T) {
	ctx, dis, img := newTestContext(bincore.Word32)
	img.Exec = []bincore.AddrRange{{Start: 0x1000, End: 0x2000}}
	registerNops(dis, 0x1000, 8)

	payload := bincore.NewSnippet()
	payload.AddInstruction([]byte{0x90})

	point := bincore.NewPoint(bincore.Instruction{Addr: 0x1000, Length: 1}, payload,
		bincore.Replace, bincore.FlagsLight, bincore.Trampolined, bincore.Regular)

	reg := bincore.NewPointRegistry(ctx)
	require.NoError(t, reg.Register(point))

	layout := bincore.NewLayout(ctx, reg)
	require.NoError(t, layout.Run())
	require.NoError(t, layout.Verify())

	save, restore, err := bincore.FlagsProtectBytes(bincore.FlagsLight, bincore.Word32)
	require.NoError(t, err)
	assert.Equal(t, 12, len(save)+len(restore))
}

// Scenario E — an overwrite region that would clobber a branch target
// is rejected with UnsafeOverwrite.
func TestLayoutScenarioEOverwriteConflict(t *testing.T) {
	ctx, dis, img := newTestContext(bincore.Word64)
	img.Exec = []bincore.AddrRange{{Start: 0x1000, End: 0x2000}}
	registerNops(dis, 0x1000, 8)
	img.Branches[0x1002] = true

	payload := bincore.NewSnippet()
	point := bincore.NewPoint(bincore.Instruction{Addr: 0x1000, Length: 1}, payload,
		bincore.Replace, bincore.FlagsNone, bincore.Trampolined, bincore.Regular)

	reg := bincore.NewPointRegistry(ctx)
	err := reg.Register(point)
	require.Error(t, err)
	var coreErr *bincore.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, bincore.UnsafeOverwrite, coreErr.Kind)
}

// Scenario F — enough trampolines to force the arena past its first
// 0x4000 increment.
func TestLayoutScenarioFArenaGrowth(t *testing.T) {
	ctx, dis, img := newTestContext(bincore.Word64)
	img.Exec = []bincore.AddrRange{{Start: 0x10000, End: 0x200000}}

	reg := bincore.NewPointRegistry(ctx)
	const n = 1500 // each trampoline is 15 bytes; 1500 * 15 > one 0x4000 increment
	for i := 0; i < n; i++ {
		addr := bincore.Address(0x10000 + i*16)
		registerNops(dis, addr, 8)

		payload := bincore.NewSnippet()
		payload.AddInstruction([]byte{0x90, 0x90, 0x90, 0x90})
		point := bincore.NewPoint(bincore.Instruction{Addr: addr, Length: 1}, payload,
			bincore.Replace, bincore.FlagsNone, bincore.Trampolined, bincore.Regular)
		require.NoError(t, reg.Register(point))
	}

	layout := bincore.NewLayout(ctx, reg)
	require.NoError(t, layout.Run())
	require.NoError(t, layout.Verify())

	rng := layout.TrampolineArenaRange()
	assert.Greater(t, uint64(rng.End-rng.Start), uint64(bincore.TrampolineArenaIncrement))
}

// Scenario G — several function calls at distinct addresses each get
// their own wrapper, every one 16-byte aligned regardless of how many
// arguments the previous wrapper reserved.
func TestLayoutScenarioGMultipleFunctionCallWrappersAreAligned(t *testing.T) {
	ctx, dis, img := newTestContext(bincore.Word64)
	img.Exec = []bincore.AddrRange{{Start: 0x4000, End: 0x6000}}
	img.PLTBase = 0x7f0000
	registerNops(dis, 0x4000, 8)
	registerNops(dis, 0x4100, 8)
	registerNops(dis, 0x4200, 8)

	payloads := []*bincore.FunctionCall{
		bincore.NewFunctionCall("counterOne", bincore.Argument{Value: 1}, bincore.Argument{Value: 2}),
		bincore.NewFunctionCall("counterTwo", bincore.Argument{Value: 3}),
		bincore.NewFunctionCall("counterThree"),
	}
	addrs := []bincore.Address{0x4000, 0x4100, 0x4200}

	reg := bincore.NewPointRegistry(ctx)
	for i, payload := range payloads {
		point := bincore.NewPoint(bincore.Instruction{Addr: addrs[i], Length: 1}, payload,
			bincore.Replace, bincore.FlagsFull, bincore.Trampolined, bincore.Regular)
		require.NoError(t, reg.Register(point))
	}

	layout := bincore.NewLayout(ctx, reg)
	require.NoError(t, layout.Run())
	require.NoError(t, layout.Verify())

	for _, payload := range payloads {
		entry, err := payload.EntryPoint()
		require.NoError(t, err)
		assert.Zero(t, uint64(entry)%16, "wrapper entry 0x%x is not 16-byte aligned", uint64(entry))
	}
}

// Determinism: two independent builds over identical input produce
// byte-identical patch bytes at the source address, since nothing in the
// core consults wall-clock time or randomness.
func TestLayoutIsDeterministicAcrossRuns(t *testing.T) {
	build := func() ([]byte, error) {
		ctx, dis, img := newTestContext(bincore.Word64)
		img.Exec = []bincore.AddrRange{{Start: 0x1000, End: 0x2000}}
		registerNops(dis, 0x1000, 8)

		payload := bincore.NewSnippet()
		payload.AddInstruction([]byte{0x90})
		point := bincore.NewPoint(bincore.Instruction{Addr: 0x1000, Length: 1}, payload,
			bincore.Replace, bincore.FlagsNone, bincore.Trampolined, bincore.Regular)

		reg := bincore.NewPointRegistry(ctx)
		if err := reg.Register(point); err != nil {
			return nil, err
		}
		layout := bincore.NewLayout(ctx, reg)
		if err := layout.Run(); err != nil {
			return nil, err
		}
		patch, _ := layout.PatchFor(0x1000)
		return patch, nil
	}

	first, err := build()
	require.NoError(t, err)
	second, err := build()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
