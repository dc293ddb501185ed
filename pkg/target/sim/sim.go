// Package sim implements a simulated Cortex-M core. It stands in for a
// debug probe connection: register reads and writes hit an in-memory
// register file and "executing" the target advances a trivial builtin
// program. It exists so the rest of the debugger can be exercised
// without hardware attached.
package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mcudbg/mcudbg/pkg/cortexm"
	"github.com/mcudbg/mcudbg/pkg/logflags"
	"github.com/mcudbg/mcudbg/pkg/target"
)

// Core is a simulated Cortex-M core implementing target.Core.
type Core struct {
	regs     map[cortexm.Reg]uint32
	fpu      bool
	runToken uint64
	log      *logrus.Entry
}

var _ target.Core = (*Core)(nil)

// New returns a halted simulated core with all registers zeroed. If fpu
// is false the floating point register file is absent and any access to
// it fails.
func New(fpu bool) *Core {
	c := &Core{
		regs: make(map[cortexm.Reg]uint32),
		fpu:  fpu,
		log:  logflags.SimCoreLogger(),
	}
	return c
}

// valid reports whether reg exists on this core: any known physical
// register, minus the FPU file when the FPU is absent.
func (c *Core) valid(reg cortexm.Reg) bool {
	if !cortexm.Valid(reg) || cortexm.IsComposite(reg) {
		return false
	}
	if cortexm.IsFPURegister(reg) && !c.fpu {
		return false
	}
	return true
}

// writeMask returns the bits of reg that are backed by storage.
// Hardware ignores writes outside these fields.
func writeMask(reg cortexm.Reg) uint32 {
	switch reg {
	case cortexm.APSR:
		return cortexm.APSRMask
	case cortexm.EPSR:
		return cortexm.EPSRMask
	case cortexm.IPSR:
		return cortexm.IPSRMask
	case cortexm.Control, cortexm.FaultMask, cortexm.BasePri, cortexm.PriMask:
		return 0xff
	}
	return 0xffffffff
}

// ReadRegistersRaw returns the current value of every listed register.
func (c *Core) ReadRegistersRaw(regs []cortexm.Reg) ([]uint32, error) {
	values := make([]uint32, len(regs))
	for i, reg := range regs {
		if !c.valid(reg) {
			return nil, &cortexm.UnknownRegisterError{Reg: reg}
		}
		values[i] = c.regs[reg]
	}
	c.log.Debugf("read %d registers", len(regs))
	return values, nil
}

// WriteRegistersRaw updates every listed register. The whole write is
// validated first so a bad index has no partial effect.
func (c *Core) WriteRegistersRaw(regs []cortexm.Reg, values []uint32) error {
	if len(regs) != len(values) {
		return fmt.Errorf("register write: %d registers, %d values", len(regs), len(values))
	}
	for _, reg := range regs {
		if !c.valid(reg) {
			return &cortexm.UnknownRegisterError{Reg: reg}
		}
	}
	for i, reg := range regs {
		c.regs[reg] = values[i] & writeMask(reg)
	}
	c.log.Debugf("wrote %d registers", len(regs))
	return nil
}

// RunToken returns the current run token. It advances every time the
// simulated target executes.
func (c *Core) RunToken() uint64 {
	return c.runToken
}

// HasFPU reports whether the simulated core has a floating point unit.
func (c *Core) HasFPU() bool {
	return c.fpu
}

// Resume executes steps instructions of the builtin program and halts.
// The program is a two-instruction loop: add r1 plus one to r0, advance
// pc. Its only purpose is making execution observable in the register
// file.
func (c *Core) Resume(steps int) {
	for i := 0; i < steps; i++ {
		c.regs[cortexm.R0] += c.regs[cortexm.R1] + 1
		c.regs[cortexm.PC] += 2
	}
	c.runToken++
	c.log.Debugf("ran %d instructions, run token now %d", steps, c.runToken)
}
