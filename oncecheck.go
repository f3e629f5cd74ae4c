package bincore

// generateOnceGuard builds the dispatch-once gate a bootstrap wraps its
// initialization work in: a lock-prefixed compare-exchange against a
// one-byte sentinel at sentinelAddr, comparing against 0 and storing 1,
// followed by a short jump that skips initBytes when the exchange
// failed (another thread already won the race or a previous call
// already ran it). The prefix before initBytes is a fixed size per word
// width; onceGuardPrefixSize reports it without needing a fresh sentinel
// value.
//
// This guard assumes initBytes is short enough for an 8-bit jump
// displacement, true of every caller in this package.
func generateOnceGuard(word WordSize, sentinelAddr Address, initBytes []byte) []byte {
	acc, newVal, scratch := "eax", "ecx", "edx"
	if word == Word64 {
		acc, newVal, scratch = "rax", "rcx", "r11"
	}

	e := NewEncoder(word)
	e.MovRegImm(scratch, uint64(sentinelAddr))
	e.MovRegImm(acc, 0)
	e.MovRegImm(newVal, 1)
	e.LockCmpxchgMemReg8(scratch, newVal, 0)
	e.JneRel8(int8(len(initBytes)))

	out := e.Bytes()
	out = append(out, initBytes...)
	return out
}

// onceGuardPrefixSize returns the fixed byte length of generateOnceGuard's
// output before initBytes, for callers that need to know where their
// init sequence will sit before they can compute PC-relative operands
// inside it.
func onceGuardPrefixSize(word WordSize) int {
	return len(generateOnceGuard(word, 0, nil))
}
