package bincore

// WrapperRegisterSet is the ordered set of registers a FunctionCall
// wrapper must push before materializing arguments and pop afterward.
// Unlike a compiler's register allocator — which only saves registers it
// knows are live — the wrapper is injected at an arbitrary host
// instruction and cannot know what is live there, so it conservatively
// pushes all caller-saved integer registers and, on 64-bit, the ABI's
// XMM registers too.
type WrapperRegisterSet struct {
	Integer []string
	XMM     []string
}

// RegistersFor returns the save set for the wrapper on the given pointer
// width.
func RegistersFor(word WordSize) WrapperRegisterSet {
	cc := ConventionFor(word)
	set := WrapperRegisterSet{Integer: cc.CallerSavedRegs()}
	if word == Word64 {
		for i := 0; i < 8; i++ {
			set.XMM = append(set.XMM, xmmName(i))
		}
	}
	return set
}

func xmmName(i int) string {
	names := []string{"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7",
		"xmm8", "xmm9", "xmm10", "xmm11", "xmm12", "xmm13", "xmm14", "xmm15"}
	return names[i]
}

// StackBytes returns the total stack space the save set occupies: one
// word (4 or 8 bytes) per integer push, 16 bytes per XMM slot
// (movaps-aligned save).
func (s WrapperRegisterSet) StackBytes(word WordSize) int {
	return len(s.Integer)*int(word) + len(s.XMM)*16
}
