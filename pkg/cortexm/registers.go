// Package cortexm describes the core register set of ARM Cortex-M
// processors: the mapping from register names and aliases to canonical
// indices, the classification of indices (integer, floating point,
// composite) and the bit layout of the composite registers.
package cortexm

import (
	"fmt"
	"strings"
)

// Reg is the canonical index of a core register. The numbering follows
// the convention used by CMSIS-DAP debuggers: r0-r15 use the DCRSR
// selector values, the CONTROL/FAULTMASK/BASEPRI/PRIMASK group uses
// small negative indices and the program status views use SYSm-style
// values in the 0x100 range. Indices are opaque to callers.
type Reg int

// General purpose and special registers.
const (
	R0 Reg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP // r13
	LR // r14
	PC // r15

	XPSR Reg = 16
	MSP  Reg = 17
	PSP  Reg = 18
	CFBP Reg = 20

	FPSCR Reg = 33
)

// S0 is the first single-precision register; s0-s31 occupy the
// contiguous range 0x40-0x5f, sN is addressed as S0+Reg(n).
const S0 Reg = 0x40

// Special registers packed into CFBP.
const (
	Control   Reg = -4
	FaultMask Reg = -3
	BasePri   Reg = -2
	PriMask   Reg = -1
)

// Program status register and its views.
const (
	APSR  Reg = 0x100
	IAPSR Reg = 0x101
	EAPSR Reg = 0x102
	IPSR  Reg = 0x105
	EPSR  Reg = 0x106
	IEPSR Reg = 0x107
)

// Bit masks of the non-overlapping xPSR fields. IPSR holds the
// exception number, EPSR the ICI/IT and T bits. APSR owns every bit
// the other two do not claim, so the three fields tile the full word
// and recomposing xPSR from its views is lossless.
const (
	EPSRMask uint32 = 0x0700fc00
	IPSRMask uint32 = 0x000001ff
	APSRMask uint32 = ^(EPSRMask | IPSRMask) // 0xf8ff0200
)

// Constituent is one physical register underlying a composite register,
// together with the bits it occupies in the composite word. The
// constituent's own value is (word & Mask) >> Shift.
type Constituent struct {
	Reg   Reg
	Mask  uint32
	Shift uint
}

// composites maps every composite register to the ordered list of
// physical registers it is derived from. Registers not present here are
// physical and correspond 1:1 to hardware storage.
var composites = map[Reg][]Constituent{
	CFBP: {
		{Control, 0xff000000, 24},
		{FaultMask, 0x00ff0000, 16},
		{BasePri, 0x0000ff00, 8},
		{PriMask, 0x000000ff, 0},
	},
	XPSR: {
		{APSR, APSRMask, 0},
		{IPSR, IPSRMask, 0},
		{EPSR, EPSRMask, 0},
	},
	IAPSR: {
		{IPSR, IPSRMask, 0},
		{APSR, APSRMask, 0},
	},
	EAPSR: {
		{EPSR, EPSRMask, 0},
		{APSR, APSRMask, 0},
	},
	IEPSR: {
		{IPSR, IPSRMask, 0},
		{EPSR, EPSRMask, 0},
	},
}

var coreRegisters = map[string]Reg{
	"r0":        R0,
	"r1":        R1,
	"r2":        R2,
	"r3":        R3,
	"r4":        R4,
	"r5":        R5,
	"r6":        R6,
	"r7":        R7,
	"r8":        R8,
	"r9":        R9,
	"r10":       R10,
	"r11":       R11,
	"r12":       R12,
	"sp":        SP,
	"r13":       SP,
	"lr":        LR,
	"r14":       LR,
	"pc":        PC,
	"r15":       PC,
	"xpsr":      XPSR,
	"apsr":      APSR,
	"iapsr":     IAPSR,
	"eapsr":     EAPSR,
	"ipsr":      IPSR,
	"epsr":      EPSR,
	"iepsr":     IEPSR,
	"msp":       MSP,
	"psp":       PSP,
	"cfbp":      CFBP,
	"control":   Control,
	"faultmask": FaultMask,
	"basepri":   BasePri,
	"primask":   PriMask,
	"fpscr":     FPSCR,
}

// regNames is the reverse of coreRegisters, canonical name per index.
var regNames = map[Reg]string{}

func init() {
	for i := 0; i < 32; i++ {
		coreRegisters[fmt.Sprintf("s%d", i)] = S0 + Reg(i)
	}
	for name, reg := range coreRegisters {
		// Prefer the architectural name over rNN aliases.
		switch name {
		case "r13", "r14", "r15":
			continue
		}
		regNames[reg] = name
	}
}

// UnknownRegisterError is returned when a register name or index is not
// part of the Cortex-M core register set.
type UnknownRegisterError struct {
	Name string
	Reg  Reg
}

func (e *UnknownRegisterError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("unknown register %q", e.Name)
	}
	return fmt.Sprintf("unknown register index %d", int(e.Reg))
}

// LookupRegister resolves a register name or alias to its canonical
// index. Names are case insensitive.
func LookupRegister(name string) (Reg, error) {
	if reg, ok := coreRegisters[strings.ToLower(name)]; ok {
		return reg, nil
	}
	return 0, &UnknownRegisterError{Name: name}
}

// Valid reports whether reg is a known core register index.
func Valid(reg Reg) bool {
	_, ok := regNames[reg]
	return ok
}

// RegisterName returns the canonical name for reg, or the decimal index
// if reg is unknown.
func RegisterName(reg Reg) string {
	if name, ok := regNames[reg]; ok {
		return name
	}
	return fmt.Sprintf("reg(%d)", int(reg))
}

// IsComposite reports whether reg has no storage of its own and is
// derived from other registers.
func IsComposite(reg Reg) bool {
	_, ok := composites[reg]
	return ok
}

// Constituents returns the physical registers a composite register is
// derived from, in pack order. It returns nil for physical registers.
func Constituents(reg Reg) []Constituent {
	return composites[reg]
}

// IsFPURegister reports whether reg belongs to the floating point
// extension (s0-s31 and fpscr). These registers are only present when
// the target implements an FPU.
func IsFPURegister(reg Reg) bool {
	return (reg >= S0 && reg < S0+32) || reg == FPSCR
}

// IsPSRView reports whether reg is one of the masked views of xPSR.
func IsPSRView(reg Reg) bool {
	switch reg {
	case APSR, IAPSR, EAPSR, IPSR, EPSR, IEPSR:
		return true
	}
	return false
}

// integerRegisterNames lists the non-FPU registers in display order.
var integerRegisterNames = []string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc",
	"xpsr", "msp", "psp",
	"control", "faultmask", "basepri", "primask",
}

// RegisterNames returns the names of all core registers in display
// order. FPU register names are included only if fpu is set.
func RegisterNames(fpu bool) []string {
	names := make([]string, 0, len(integerRegisterNames)+33)
	names = append(names, integerRegisterNames...)
	if fpu {
		names = append(names, "fpscr")
		for i := 0; i < 32; i++ {
			names = append(names, fmt.Sprintf("s%d", i))
		}
	}
	return names
}

// AllNames returns every register name and alias, for completion.
func AllNames() []string {
	names := make([]string, 0, len(coreRegisters))
	for name := range coreRegisters {
		names = append(names, name)
	}
	return names
}
