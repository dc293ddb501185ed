// Package debug implements the register access layer of a debug
// session: a write-through register cache layered over a raw register
// transport, with composite registers (cfbp, the xPSR views) derived
// from the physical registers that back them.
package debug

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mcudbg/mcudbg/pkg/cortexm"
	"github.com/mcudbg/mcudbg/pkg/logflags"
	"github.com/mcudbg/mcudbg/pkg/target"
)

// RegisterUnavailableError is returned when a floating point register
// is accessed on a target without an FPU.
type RegisterUnavailableError struct {
	Reg cortexm.Reg
}

func (e *RegisterUnavailableError) Error() string {
	return fmt.Sprintf("register %s is unavailable: target has no FPU", cortexm.RegisterName(e.Reg))
}

// RegisterCache caches core register values between target runs.
//
// A cached value may be trusted only while the transport's run token is
// unchanged; execution can alter any register, so a token change drops
// the whole cache, not individual entries. Writes go through to the
// transport immediately. The cache is not safe for concurrent use: the
// fetch-modify-write sequences used for composite registers need
// external serialization.
type RegisterCache struct {
	core target.Core
	log  *logrus.Entry

	// values holds the last known value of each physical register.
	// Presence in the map is the validity flag; composite registers are
	// never stored, only derived.
	values   map[cortexm.Reg]uint32
	runToken uint64
}

var _ target.Core = (*RegisterCache)(nil)

// NewRegisterCache returns an empty cache bound to core.
func NewRegisterCache(core target.Core) *RegisterCache {
	return &RegisterCache{
		core:     core,
		log:      logflags.RegCacheLogger(),
		values:   make(map[cortexm.Reg]uint32),
		runToken: core.RunToken(),
	}
}

// Invalidate drops every cached entry, regardless of the run token.
// Needed when target state changed through a channel the run token does
// not track.
func (c *RegisterCache) Invalidate() {
	c.log.Debugf("explicit invalidate, dropping %d cached registers", len(c.values))
	c.values = make(map[cortexm.Reg]uint32)
}

// RunToken returns the transport's current run token.
func (c *RegisterCache) RunToken() uint64 {
	return c.core.RunToken()
}

// HasFPU reports whether the target implements the floating point
// extension.
func (c *RegisterCache) HasFPU() bool {
	return c.core.HasFPU()
}

// checkValidity compares the transport's run token with the one
// observed last and drops the cache on mismatch. Invalidation is lazy:
// the cost is paid on the next access, not when the target resumes.
func (c *RegisterCache) checkValidity() {
	tok := c.core.RunToken()
	if tok != c.runToken {
		c.log.Debugf("run token %d -> %d, dropping %d cached registers", c.runToken, tok, len(c.values))
		c.values = make(map[cortexm.Reg]uint32)
		c.runToken = tok
	}
}

// validate rejects unknown indices and, on FPU-less targets, floating
// point registers. It runs before any transport access so failed
// requests have no side effects.
func (c *RegisterCache) validate(regs []cortexm.Reg) error {
	fpu := c.core.HasFPU()
	for _, reg := range regs {
		if !cortexm.Valid(reg) {
			return &cortexm.UnknownRegisterError{Reg: reg}
		}
		if cortexm.IsFPURegister(reg) && !fpu {
			return &RegisterUnavailableError{Reg: reg}
		}
	}
	return nil
}

// fetch reads the listed registers from the transport in one batch and
// caches them. Nothing is cached if the read fails.
func (c *RegisterCache) fetch(regs []cortexm.Reg) error {
	if len(regs) == 0 {
		return nil
	}
	values, err := c.core.ReadRegistersRaw(regs)
	if err != nil {
		return err
	}
	for i, reg := range regs {
		c.values[reg] = values[i]
	}
	c.log.Debugf("fetched %d registers from target", len(regs))
	return nil
}

// missingOf accumulates the physical registers backing reg that are not
// cached and not already queued.
func (c *RegisterCache) missingOf(reg cortexm.Reg, missing []cortexm.Reg, queued map[cortexm.Reg]bool) []cortexm.Reg {
	add := func(reg cortexm.Reg) {
		if _, ok := c.values[reg]; ok || queued[reg] {
			return
		}
		queued[reg] = true
		missing = append(missing, reg)
	}
	if cons := cortexm.Constituents(reg); cons != nil {
		for _, con := range cons {
			add(con.Reg)
		}
	} else {
		add(reg)
	}
	return missing
}

// compose derives the value of a composite register from its cached
// constituents.
func (c *RegisterCache) compose(cons []cortexm.Constituent) uint32 {
	var v uint32
	for _, con := range cons {
		v |= (c.values[con.Reg] << con.Shift) & con.Mask
	}
	return v
}

// ReadRegistersRaw returns the raw value of each listed register, in
// request order. Cached registers are served without transport access;
// all missing physical registers, constituents of composite requests
// included, are fetched in a single batched transport read.
func (c *RegisterCache) ReadRegistersRaw(regs []cortexm.Reg) ([]uint32, error) {
	c.checkValidity()
	if err := c.validate(regs); err != nil {
		return nil, err
	}

	var missing []cortexm.Reg
	queued := make(map[cortexm.Reg]bool)
	for _, reg := range regs {
		missing = c.missingOf(reg, missing, queued)
	}
	if err := c.fetch(missing); err != nil {
		return nil, err
	}

	values := make([]uint32, len(regs))
	for i, reg := range regs {
		if cons := cortexm.Constituents(reg); cons != nil {
			values[i] = c.compose(cons)
		} else {
			values[i] = c.values[reg]
		}
	}
	return values, nil
}

// WriteRegistersRaw writes the given values, through the cache, to the
// transport. Composite writes replace only the bits covered by each
// constituent's mask, so the constituents' current values are fetched
// first if not cached. Field writes are coalesced per physical register
// in request order (last write wins) and every changed register is
// written to the transport exactly once, in one batch. Cache entries
// are updated only after the transport write succeeds.
func (c *RegisterCache) WriteRegistersRaw(regs []cortexm.Reg, values []uint32) error {
	if len(regs) != len(values) {
		return fmt.Errorf("register write: %d registers but %d values", len(regs), len(values))
	}
	c.checkValidity()
	if err := c.validate(regs); err != nil {
		return err
	}

	// Prime the constituents of composite writes.
	var missing []cortexm.Reg
	queued := make(map[cortexm.Reg]bool)
	for _, reg := range regs {
		if cortexm.IsComposite(reg) {
			missing = c.missingOf(reg, missing, queued)
		}
	}
	if err := c.fetch(missing); err != nil {
		return err
	}

	pending := make(map[cortexm.Reg]uint32)
	var order []cortexm.Reg
	set := func(reg cortexm.Reg, v uint32) {
		if _, ok := pending[reg]; !ok {
			order = append(order, reg)
		}
		pending[reg] = v
	}
	current := func(reg cortexm.Reg) uint32 {
		if v, ok := pending[reg]; ok {
			return v
		}
		return c.values[reg]
	}
	for i, reg := range regs {
		cons := cortexm.Constituents(reg)
		if cons == nil {
			set(reg, values[i])
			continue
		}
		for _, con := range cons {
			mask := con.Mask >> con.Shift // in constituent space
			v := current(con.Reg)&^mask | (values[i]>>con.Shift)&mask
			set(con.Reg, v)
		}
	}

	out := make([]uint32, len(order))
	for i, reg := range order {
		out[i] = pending[reg]
	}
	if err := c.core.WriteRegistersRaw(order, out); err != nil {
		return err
	}
	for i, reg := range order {
		c.values[reg] = out[i]
	}
	c.log.Debugf("wrote %d registers through to target", len(order))
	return nil
}

// ReadNamedRegistersRaw resolves each name and reads the registers.
func (c *RegisterCache) ReadNamedRegistersRaw(names []string) ([]uint32, error) {
	regs, err := resolveNames(names)
	if err != nil {
		return nil, err
	}
	return c.ReadRegistersRaw(regs)
}

// WriteNamedRegistersRaw resolves each name and writes the registers.
func (c *RegisterCache) WriteNamedRegistersRaw(names []string, values []uint32) error {
	regs, err := resolveNames(names)
	if err != nil {
		return err
	}
	return c.WriteRegistersRaw(regs, values)
}

// ReadRegister reads a single register by name.
func (c *RegisterCache) ReadRegister(name string) (uint32, error) {
	values, err := c.ReadNamedRegistersRaw([]string{name})
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// WriteRegister writes a single register by name.
func (c *RegisterCache) WriteRegister(name string, value uint32) error {
	return c.WriteNamedRegistersRaw([]string{name}, []uint32{value})
}

// ReadFloatRegister reads a single-precision register as a float32,
// reinterpreting the cached bit pattern.
func (c *RegisterCache) ReadFloatRegister(name string) (float32, error) {
	raw, err := c.ReadRegister(name)
	if err != nil {
		return 0, err
	}
	return cortexm.RawToFloat32(raw), nil
}

// WriteFloatRegister writes a float32 to a single-precision register,
// storing its bit pattern.
func (c *RegisterCache) WriteFloatRegister(name string, value float32) error {
	return c.WriteRegister(name, cortexm.Float32ToRaw(value))
}

func resolveNames(names []string) ([]cortexm.Reg, error) {
	regs := make([]cortexm.Reg, len(names))
	for i, name := range names {
		reg, err := cortexm.LookupRegister(name)
		if err != nil {
			return nil, err
		}
		regs[i] = reg
	}
	return regs, nil
}
