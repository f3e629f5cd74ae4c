package bincore

// Emitter performs the single-pass dump of a completed Layout into an
// OutputFile: the patched .text overwrite regions, the trampolines, and
// the payload regions, each written once. Patches and trampolines are
// written in ascending-address order; payloads are written in
// ascending entry-point order, each FunctionCall's four regions together.
type Emitter struct {
	ctx    *Context
	layout *Layout
}

// NewEmitter returns an Emitter bound to a Layout that has already run.
func NewEmitter(ctx *Context, layout *Layout) *Emitter {
	return &Emitter{ctx: ctx, layout: layout}
}

// Emit writes every patched overwrite region, then every trampoline,
// then each payload's regions, to out. fileOffset translates an
// Address into the file offset OutputFile.WriteBytes expects; a static
// rewriter with a 1:1 virtual-address-to-file-offset mapping can pass
// identity.
func (em *Emitter) Emit(out OutputFile, fileOffset func(Address) int64) error {
	if !em.layout.ran {
		return newFatalError(VerifyFailed, 0, "Emit called before Layout.Run")
	}

	if err := em.emitPatches(out, fileOffset); err != nil {
		return err
	}
	if err := em.emitTrampolines(out, fileOffset); err != nil {
		return err
	}
	if err := em.emitPayloads(out, fileOffset); err != nil {
		return err
	}
	if em.ctx.Log != nil {
		em.ctx.Log.Debug("emit complete")
	}
	return nil
}

func (em *Emitter) logWrite(addr Address, n int, region string) {
	if em.ctx.Log == nil {
		return
	}
	em.ctx.Log.WithField("addr", addr).
		WithField("bytes", n).
		WithField("region", region).
		Debug("wrote output bytes")
}

func (em *Emitter) emitPatches(out OutputFile, fileOffset func(Address) int64) error {
	for _, addr := range em.layout.registry.Addresses() {
		patch, ok := em.layout.PatchFor(addr)
		if !ok {
			continue
		}
		if err := out.WriteBytes(fileOffset(addr), patch); err != nil {
			return errWrite(addr, err)
		}
		em.logWrite(addr, len(patch), "patch")
	}
	return nil
}

func (em *Emitter) emitTrampolines(out OutputFile, fileOffset func(Address) int64) error {
	for _, t := range em.layout.sortedTrampolines() {
		if err := out.WriteBytes(fileOffset(t.addr), t.encoded); err != nil {
			return errWrite(t.addr, err)
		}
		em.logWrite(t.addr, len(t.encoded), "trampoline")
	}
	return nil
}

func (em *Emitter) emitPayloads(out OutputFile, fileOffset func(Address) int64) error {
	for _, p := range em.layout.sortedPayloads() {
		switch pl := p.(type) {
		case *Snippet:
			if err := out.WriteBytes(fileOffset(pl.bootstrapAddr), pl.encoded); err != nil {
				return errWrite(pl.bootstrapAddr, err)
			}
			em.logWrite(pl.bootstrapAddr, len(pl.encoded), "snippet")
		case *FunctionCall:
			if err := out.WriteBytes(fileOffset(pl.wrapperAddr), pl.encodedWrapper); err != nil {
				return errWrite(pl.wrapperAddr, err)
			}
			em.logWrite(pl.wrapperAddr, len(pl.encodedWrapper), "wrapper")
			if err := out.WriteBytes(fileOffset(pl.bootstrapAddr), pl.encodedBootstrap); err != nil {
				return errWrite(pl.bootstrapAddr, err)
			}
			em.logWrite(pl.bootstrapAddr, len(pl.encodedBootstrap), "bootstrap")
			if err := out.WriteBytes(fileOffset(pl.procLinkAddr), pl.encodedProcLink); err != nil {
				return errWrite(pl.procLinkAddr, err)
			}
			em.logWrite(pl.procLinkAddr, len(pl.encodedProcLink), "proclink")
			if err := out.WriteBytes(fileOffset(pl.dataBaseAddr), pl.encodedData); err != nil {
				return errWrite(pl.dataBaseAddr, err)
			}
			em.logWrite(pl.dataBaseAddr, len(pl.encodedData), "data")
		}
	}
	return nil
}

func errWrite(addr Address, cause error) error {
	err := newFatalError(VerifyFailed, addr, "failed to write output bytes: %v", cause)
	return err
}
