package bincore

import "github.com/pkg/errors"

// PushReg emits `push reg`.
func (e *Encoder) PushReg(reg string) {
	r, _ := GetRegister(e.word, reg)
	if r.Encoding >= 8 {
		e.write(rex(false, 0, 0, r.Encoding))
	}
	e.write(0x50 + (r.Encoding & 7))
}

// PopReg emits `pop reg`.
func (e *Encoder) PopReg(reg string) {
	r, _ := GetRegister(e.word, reg)
	if r.Encoding >= 8 {
		e.write(rex(false, 0, 0, r.Encoding))
	}
	e.write(0x58 + (r.Encoding & 7))
}

// FlagsProtectBytes returns the (save, restore) byte sequences for a
// flags-protection mode, padded with NOPs so their combined length is
// always exactly flagsProtectSize's reserve — Layout budgets on that
// fixed size, and a generator that emits more than its reserve raises
// PayloadSizeExceedsReserve.
//
// "Light" protection's subset-of-flags scan is resolved conservatively
// (see DESIGN.md): it saves the same CF/OF/SF/ZF/PF/AF set as Full,
// just through an lahf/seto sequence sized to the Light budget instead
// of a single pushf/popf.
func FlagsProtectBytes(mode FlagsProtectionMode, word WordSize) (save, restore []byte, err error) {
	switch mode {
	case FlagsNone:
		return nil, nil, nil
	case FlagsFull:
		return []byte{0x9C}, []byte{0x9D}, nil // pushf ; popf
	case FlagsLight:
		return flagsLightBytes(word)
	default:
		return nil, nil, errors.Errorf("unknown flags protection mode %d", mode)
	}
}

func flagsLightBytes(word WordSize) (save, restore []byte, err error) {
	if word == Word64 {
		save = []byte{
			0x50,             // push rax
			0x41, 0x53,       // push r11
			0x9F,             // lahf
			0x0F, 0x90, 0xC0, // seto al
		}
		restore = []byte{
			0x04, 0x7F, // add al, 0x7f
			0x9E,       // sahf
			0x41, 0x5B, // pop r11
			0x58, // pop rax
		}
	} else {
		save = []byte{
			0x50,             // push eax
			0x9F,             // lahf
			0x0F, 0x90, 0xC0, // seto al
		}
		restore = []byte{
			0x04, 0x7F, // add al, 0x7f
			0x9E, // sahf
			0x58, // pop eax
		}
	}

	budget := flagsProtectSize(FlagsLight, word)
	used := len(save) + len(restore)
	if used > budget {
		return nil, nil, errors.Errorf("light flags protection needs %d bytes, reserve is %d", used, budget)
	}
	for i := 0; i < budget-used; i++ {
		restore = append(restore, 0x90) // nop padding to the fixed reserve
	}
	return save, restore, nil
}
