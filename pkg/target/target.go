// Package target defines the boundary between the register access layer
// and whatever moves raw register values to and from a Cortex-M core: a
// debug probe connection, or the simulated backend in package sim.
package target

import "github.com/mcudbg/mcudbg/pkg/cortexm"

// Core is a raw register transport. Reads and writes are batched: a
// single call moves every listed register in one round trip where the
// underlying transport allows it. Both fail if any index is not a valid
// register of the target, without partial effect.
//
// Implementations must advance the run token whenever target execution
// may have altered register state. Consumers compare tokens by value to
// detect staleness; tokens never decrease.
type Core interface {
	ReadRegistersRaw(regs []cortexm.Reg) ([]uint32, error)
	WriteRegistersRaw(regs []cortexm.Reg, values []uint32) error

	// RunToken returns the current run token.
	RunToken() uint64

	// HasFPU reports whether the target implements the floating point
	// extension. When false the s0-s31 and fpscr registers do not exist.
	HasFPU() bool
}
