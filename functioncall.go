package bincore

import "github.com/pkg/errors"

// Argument is a FunctionCall parameter: Value is baked into the
// payload's own global-data block at a pointer-sized cell generateWrapper
// dereferences and passes at call time, so the callee always sees a
// freshly loaded value rather than a value folded into the call site.
type Argument struct {
	Value uint64
}

const (
	reserveBootstrap = 128
	reserveProcLink  = 16
)

// reserveWrapper returns the wrapper region's reserved size for a call
// with argCount arguments. The per-ISA base covers the fixed caller-save
// and call/ret skeleton generateWrapper always emits; each argument adds
// a fixed marshaling cost (materialize the cell address, load it into
// the ABI slot). A zero-argument 64-bit wrapper fits the traditional
// 128-byte PLT-stub-sized reserve; each additional argument grows the
// reserve by the 13 bytes its load sequence costs.
func reserveWrapper(word WordSize, argCount int) int {
	if word == Word64 {
		const base = 124  // 9 int pushes/pops + xmm0-7 save/restore + call/ret
		const perArg = 13 // MovRegImm r11,addr (10) + MovRegMem argReg,[r11] (3)
		return base + perArg*argCount
	}
	const base = 12 // 3 int pushes/pops (cdecl caller-saved) + call + ret
	const perArg = 8
	if argCount == 0 {
		return base
	}
	const espAdjust = 6 // add esp, argCount*4 after the call
	return base + espAdjust + perArg*argCount
}

// FunctionCall is the Payload variant that calls an external function
// by name, marshaling a fixed argument list through the host ABI.
type FunctionCall struct {
	basePayload

	TargetName string
	Arguments  []Argument

	static       bool
	staticTarget Address

	bootstrapAddr Address
	procLinkAddr  Address
	wrapperAddr   Address
	dataBaseAddr  Address
	addressed     bool

	// encoded* hold the phase-2 output of each region once Layout's
	// encode pass has run.
	encodedWrapper   []byte
	encodedProcLink  []byte
	encodedBootstrap []byte
	encodedData      []byte
}

// NewFunctionCall returns a FunctionCall targeting the named external
// function with the given arguments, in call order.
func NewFunctionCall(name string, args ...Argument) *FunctionCall {
	return &FunctionCall{basePayload: newBasePayload(), TargetName: name, Arguments: args}
}

func (f *FunctionCall) Kind() PayloadKind { return KindFunctionCall }

// globalDataLayout computes the byte layout of the payload's global
// data block: the name string, the resolved-entry pointer slot, the
// one-byte dispatch sentinel, and one pointer-sized cell per argument,
// each word-aligned.
func (f *FunctionCall) globalDataLayout(word WordSize) (nameOff, resolvedOff, sentinelOff int, argOffs []int, total int) {
	nameOff = 0
	nameLen := len(f.TargetName) + 1
	resolvedOff = alignInt(nameOff+nameLen, int(word))
	sentinelOff = resolvedOff + int(word)
	argBase := alignInt(sentinelOff+1, int(word))
	argOffs = make([]int, len(f.Arguments))
	for i := range argOffs {
		argOffs[i] = argBase + i*int(word)
	}
	total = argBase + len(f.Arguments)*int(word)
	return
}

// SizeNeeded sums the bootstrap and procedure-link reserves, the
// argument-count-scaled wrapper reserve, and the computed global-data
// size.
func (f *FunctionCall) SizeNeeded(word WordSize) int {
	_, _, _, _, dataTotal := f.globalDataLayout(word)
	return reserveBootstrap + reserveProcLink + reserveWrapper(word, len(f.Arguments)) + dataTotal
}

// EntryPoint returns the wrapper's address — the payload's entry point
// regardless of whether the callee turned out to be statically linked.
func (f *FunctionCall) EntryPoint() (Address, error) {
	if !f.addressed {
		return 0, errors.New("function call entry point requested before layout")
	}
	return f.wrapperAddr, nil
}

// resolveLinkage looks up the callee in the image's static symbol
// table, deciding whether the procedure link can jump direct.
func (f *FunctionCall) resolveLinkage(image ImageModel) {
	if addr, ok := image.SymbolAddress(f.TargetName); ok {
		f.static = true
		f.staticTarget = addr
	}
}

// setAddresses records the addresses Layout assigned each of the four
// regions.
func (f *FunctionCall) setAddresses(bootstrap, procLink, wrapper, dataBase Address) {
	f.bootstrapAddr = bootstrap
	f.procLinkAddr = procLink
	f.wrapperAddr = wrapper
	f.dataBaseAddr = dataBase
	f.addressed = true
}

// argOffsets is a small accessor so procedurelink.go's bootstrap
// generator can reach the layout without recomputing it twice.
func (f *FunctionCall) argOffsets(word WordSize) (resolvedOff, sentinelOff int, argOffs []int) {
	_, resolvedOff, sentinelOff, argOffs, _ = f.globalDataLayout(word)
	return
}

// generateGlobalData emits the name string, the resolved-entry slot
// (pre-seeded with the bootstrap address in the dynamic case, the
// classic lazy-PLT trick — the first indirect jump through the
// procedure link lands in the bootstrap, which patches this slot to
// the real address before any call actually happens, so the cost of
// resolving is paid once), the sentinel byte, and one pointer-sized
// cell per Argument, pre-loaded with that argument's Value.
func (f *FunctionCall) generateGlobalData(word WordSize) []byte {
	nameOff, resolvedOff, _, argOffs, total := f.globalDataLayout(word)
	buf := make([]byte, total)
	copy(buf[nameOff:], f.TargetName)

	if !f.static {
		putUint(buf[resolvedOff:resolvedOff+int(word)], uint64(f.bootstrapAddr), word)
	}
	for i, off := range argOffs {
		putUint(buf[off:off+int(word)], f.Arguments[i].Value, word)
	}
	return buf
}

func putUint(dst []byte, v uint64, word WordSize) {
	for i := 0; i < int(word); i++ {
		dst[i] = byte(v >> (8 * uint(i)))
	}
}

// generateWrapper emits the ABI-correct caller-saves/marshal/call/
// restore/ret sequence. It is the Payload's entry point: a trampoline
// reaches it with a near-call and the wrapper returns to the trampoline
// with a plain ret.
func (f *FunctionCall) generateWrapper(word WordSize, selfAddr Address) ([]byte, error) {
	_, _, argOffs := f.argOffsets(word)
	regs := RegistersFor(word)
	cc := ConventionFor(word)

	e := NewEncoder(word)
	for _, r := range regs.Integer {
		e.PushReg(r)
	}

	xmmStack := len(regs.XMM) * 16
	if xmmStack > 0 {
		e.SubRegImm32("rsp", int32(xmmStack))
		for i, r := range regs.XMM {
			e.MovapsStore("rsp", int32(i*16), r)
		}
	}

	for i := range f.Arguments {
		argAddr := f.dataBaseAddr + Address(argOffs[i])
		if word == Word64 {
			argReg, ok := cc.IntegerArgReg(i)
			if !ok {
				return nil, errors.Errorf("function call to %s has more arguments than the ABI can pass in registers", f.TargetName)
			}
			e.MovRegImm("r11", uint64(argAddr))
			e.MovRegMem(argReg, "r11", 0)
		} else {
			e.MovRegImm("edx", uint64(argAddr))
			e.MovRegMem("eax", "edx", 0)
			e.PushReg("eax")
		}
	}

	callSiteAddr := selfAddr + Address(e.Len())
	disp, err := relDisp32(callSiteAddr, f.procLinkAddr, SizeUncondJump)
	if err != nil {
		return nil, err
	}
	e.CallRel32(disp)

	if word == Word32 && len(f.Arguments) > 0 {
		e.AddRegImm32("esp", int32(len(f.Arguments)*4))
	}

	if xmmStack > 0 {
		for i, r := range regs.XMM {
			e.MovapsLoad(r, "rsp", int32(i*16))
		}
		e.AddRegImm32("rsp", int32(xmmStack))
	}
	for i := len(regs.Integer) - 1; i >= 0; i-- {
		e.PopReg(regs.Integer[i])
	}
	e.Ret()

	reserve := reserveWrapper(word, len(f.Arguments))
	if e.Len() > reserve {
		return nil, newFatalError(PayloadSizeExceedsReserve, selfAddr,
			"wrapper for %s needs %d bytes, reserve is %d", f.TargetName, e.Len(), reserve)
	}
	return e.Bytes(), nil
}
