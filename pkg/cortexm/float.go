package cortexm

import "math"

// The debug transport moves single-precision registers as raw 32-bit
// words holding the IEEE-754 bit pattern. All conversions between
// float32 values and that representation go through these two
// functions; the bits are reinterpreted, never numerically converted.

// Float32ToRaw returns the IEEE-754 bit pattern of f.
func Float32ToRaw(f float32) uint32 {
	return math.Float32bits(f)
}

// RawToFloat32 returns the float32 whose IEEE-754 bit pattern is raw.
func RawToFloat32(raw uint32) float32 {
	return math.Float32frombits(raw)
}
