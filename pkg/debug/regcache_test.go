package debug

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mcudbg/mcudbg/pkg/cortexm"
)

// mockCore is an in-memory register transport double. It stores every
// physical register in a map and counts transport calls so tests can
// assert on probe traffic.
type mockCore struct {
	regs     map[cortexm.Reg]uint32
	fpu      bool
	runToken uint64

	reads, writes     int
	readErr, writeErr error
}

func newMockCore() *mockCore {
	return &mockCore{regs: make(map[cortexm.Reg]uint32), fpu: true}
}

func (m *mockCore) ReadRegistersRaw(regs []cortexm.Reg) ([]uint32, error) {
	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}
	values := make([]uint32, len(regs))
	for i, reg := range regs {
		if !cortexm.Valid(reg) || cortexm.IsComposite(reg) {
			return nil, &cortexm.UnknownRegisterError{Reg: reg}
		}
		values[i] = m.regs[reg]
	}
	return values, nil
}

func (m *mockCore) WriteRegistersRaw(regs []cortexm.Reg, values []uint32) error {
	m.writes++
	if m.writeErr != nil {
		return m.writeErr
	}
	for _, reg := range regs {
		if !cortexm.Valid(reg) || cortexm.IsComposite(reg) {
			return &cortexm.UnknownRegisterError{Reg: reg}
		}
	}
	for i, reg := range regs {
		m.regs[reg] = values[i]
	}
	return nil
}

func (m *mockCore) RunToken() uint64 { return m.runToken }
func (m *mockCore) HasFPU() bool     { return m.fpu }

func (m *mockCore) set(t *testing.T, name string, value uint32) {
	t.Helper()
	reg, err := cortexm.LookupRegister(name)
	if err != nil {
		t.Fatal(err)
	}
	m.regs[reg] = value
}

func (m *mockCore) get(t *testing.T, name string) uint32 {
	t.Helper()
	reg, err := cortexm.LookupRegister(name)
	if err != nil {
		t.Fatal(err)
	}
	return m.regs[reg]
}

// coreRegsNoComposites lists every physical register by name.
func coreRegsNoComposites() []string {
	names := []string{
		"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
		"r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc",
		"msp", "psp",
		"control", "faultmask", "basepri", "primask",
		"apsr", "ipsr", "epsr",
		"fpscr",
	}
	for i := 0; i < 32; i++ {
		names = append(names, fmt.Sprintf("s%d", i))
	}
	return names
}

// expectedValue returns the test pattern for a register: the PSR fields
// are 0x55555555 masked to the field, everything else is index+1 (with
// negative indices offset by 100).
func expectedValue(t *testing.T, name string) uint32 {
	t.Helper()
	reg, err := cortexm.LookupRegister(name)
	if err != nil {
		t.Fatal(err)
	}
	switch reg {
	case cortexm.APSR:
		return 0x55555555 & cortexm.APSRMask
	case cortexm.IPSR:
		return 0x55555555 & cortexm.IPSRMask
	case cortexm.EPSR:
		return 0x55555555 & cortexm.EPSRMask
	}
	i := int(reg)
	if i < 0 {
		i += 100
	}
	return uint32(i + 1)
}

// modifier returns a value to perturb a register with, staying inside
// the masked PSR fields.
func modifier(name string) uint32 {
	switch name {
	case "apsr":
		return 0x30010000
	case "epsr":
		return 0x01000c00
	}
	return 7
}

func expectedCFBP(t *testing.T) uint32 {
	return expectedValue(t, "control")<<24 |
		expectedValue(t, "faultmask")<<16 |
		expectedValue(t, "basepri")<<8 |
		expectedValue(t, "primask")
}

func expectedXPSR(t *testing.T) uint32 {
	return expectedValue(t, "apsr") | expectedValue(t, "ipsr") | expectedValue(t, "epsr")
}

func setCoreRegs(t *testing.T, m *mockCore, modify bool) {
	t.Helper()
	for _, name := range coreRegsNoComposites() {
		var mod uint32
		if modify {
			mod = modifier(name)
		}
		m.set(t, name, expectedValue(t, name)+mod)
	}
}

func readOne(t *testing.T, c *RegisterCache, name string) uint32 {
	t.Helper()
	value, err := c.ReadRegister(name)
	if err != nil {
		t.Fatalf("reading %s: %v", name, err)
	}
	return value
}

func assertRead(t *testing.T, c *RegisterCache, name string, want uint32) {
	t.Helper()
	if got := readOne(t, c, name); got != want {
		t.Errorf("%s = %#x, want %#x", name, got, want)
	}
}

func TestCacheServesCachedValue(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)

	assertRead(t, c, "r0", 0) // caches the initial 0
	m.set(t, "r0", 1234)      // mutate behind the cache's back
	assertRead(t, c, "r0", 0) // still the cached value
	c.Invalidate()
	assertRead(t, c, "r0", 1234)
}

func TestRunTokenChangeInvalidates(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)

	assertRead(t, c, "r0", 0)
	m.set(t, "r0", 1234)
	assertRead(t, c, "r0", 0)
	m.runToken++ // target may have run
	assertRead(t, c, "r0", 1234)
}

func TestReadFromCore(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	setCoreRegs(t, m, false)

	for _, name := range coreRegsNoComposites() {
		assertRead(t, c, name, expectedValue(t, name))
	}
}

func TestReadCached(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	setCoreRegs(t, m, false)

	// Cache every register; the whole request is one transport read.
	before := m.reads
	if _, err := c.ReadNamedRegistersRaw(coreRegsNoComposites()); err != nil {
		t.Fatal(err)
	}
	if m.reads != before+1 {
		t.Errorf("caching all registers took %d transport reads, want 1", m.reads-before)
	}

	// Modify the core out-of-band; the cache must not notice.
	setCoreRegs(t, m, true)
	for _, name := range coreRegsNoComposites() {
		assertRead(t, c, name, expectedValue(t, name))
	}
}

func TestReadCFBP(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	setCoreRegs(t, m, false)

	values, err := c.ReadNamedRegistersRaw([]string{"cfbp", "control", "faultmask"})
	if err != nil {
		t.Fatal(err)
	}
	want := []uint32{expectedCFBP(t), expectedValue(t, "control"), expectedValue(t, "faultmask")}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("value %d = %#x, want %#x", i, values[i], want[i])
		}
	}
}

func TestReadXPSR(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	setCoreRegs(t, m, false)

	values, err := c.ReadNamedRegistersRaw([]string{"xpsr", "ipsr", "apsr", "eapsr"})
	if err != nil {
		t.Fatal(err)
	}
	want := []uint32{
		expectedXPSR(t),
		expectedValue(t, "ipsr"),
		expectedValue(t, "apsr"),
		expectedValue(t, "epsr") | expectedValue(t, "apsr"),
	}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("value %d = %#x, want %#x", i, values[i], want[i])
		}
	}
}

func TestReadCachedCFBP(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	setCoreRegs(t, m, false)

	assertRead(t, c, "cfbp", expectedCFBP(t))
	m.set(t, "control", 0x55)
	m.set(t, "primask", 0xaa)
	assertRead(t, c, "cfbp", expectedCFBP(t))
}

func TestReadCachedXPSR(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	setCoreRegs(t, m, false)

	assertRead(t, c, "xpsr", expectedXPSR(t))
	m.set(t, "ipsr", 0x22)
	m.set(t, "apsr", 0x10000000)
	assertRead(t, c, "xpsr", expectedXPSR(t))
}

func TestReadDuplicateNames(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	m.set(t, "r0", 11)
	m.set(t, "r1", 22)

	values, err := c.ReadNamedRegistersRaw([]string{"r0", "r1", "r0", "r0"})
	if err != nil {
		t.Fatal(err)
	}
	want := []uint32{11, 22, 11, 11}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("value %d = %d, want %d", i, values[i], want[i])
		}
	}
	if m.reads != 1 {
		t.Errorf("request took %d transport reads, want 1", m.reads)
	}
}

func TestWriteOne(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	setCoreRegs(t, m, false)

	assertRead(t, c, "r0", expectedValue(t, "r0"))
	if err := c.WriteRegister("r0", 1234); err != nil {
		t.Fatal(err)
	}
	if got := m.get(t, "r0"); got != 1234 {
		t.Errorf("core r0 = %d, want 1234", got)
	}
	assertRead(t, c, "r0", 1234)
}

func TestWriteAllRegs(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	setCoreRegs(t, m, false)

	for _, name := range coreRegsNoComposites() {
		if err := c.WriteRegister(name, expectedValue(t, name)+modifier(name)); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	for _, name := range coreRegsNoComposites() {
		if got := m.get(t, name); got != expectedValue(t, name)+modifier(name) {
			t.Errorf("core %s = %#x, want %#x", name, got, expectedValue(t, name)+modifier(name))
		}
	}
}

func TestWriteCFBPConstituents(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	setCoreRegs(t, m, false)

	assertRead(t, c, "cfbp", expectedCFBP(t))
	err := c.WriteNamedRegistersRaw([]string{"control", "primask"}, []uint32{3, 19})
	if err != nil {
		t.Fatal(err)
	}
	if got := m.get(t, "control"); got != 3 {
		t.Errorf("core control = %d, want 3", got)
	}
	if got := m.get(t, "primask"); got != 19 {
		t.Errorf("core primask = %d, want 19", got)
	}
	want := 3<<24 | expectedValue(t, "faultmask")<<16 | expectedValue(t, "basepri")<<8 | 19
	assertRead(t, c, "cfbp", want)
}

func TestCFBPRoundTrip(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	setCoreRegs(t, m, false)

	const packed = uint32(0x03<<24 | 0x01<<16 | 0x40<<8 | 0x01)
	if err := c.WriteRegister("cfbp", packed); err != nil {
		t.Fatal(err)
	}
	assertRead(t, c, "control", 0x03)
	assertRead(t, c, "faultmask", 0x01)
	assertRead(t, c, "basepri", 0x40)
	assertRead(t, c, "primask", 0x01)
	assertRead(t, c, "cfbp", packed)
	if got := m.get(t, "basepri"); got != 0x40 {
		t.Errorf("core basepri = %#x, want 0x40", got)
	}
}

func TestWriteIAPSR(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	setCoreRegs(t, m, false)

	assertRead(t, c, "xpsr", expectedXPSR(t))
	if err := c.WriteRegister("iapsr", 0x10000022); err != nil {
		t.Fatal(err)
	}
	if got := m.get(t, "ipsr"); got != 0x22 {
		t.Errorf("core ipsr = %#x, want 0x22", got)
	}
	if got := m.get(t, "apsr"); got != 0x10000000 {
		t.Errorf("core apsr = %#x, want 0x10000000", got)
	}
	// epsr owns bits not covered by iapsr and must be untouched.
	if got := m.get(t, "epsr"); got != expectedValue(t, "epsr") {
		t.Errorf("core epsr = %#x, want %#x", got, expectedValue(t, "epsr"))
	}
	assertRead(t, c, "iapsr", 0x10000022)
	assertRead(t, c, "xpsr", 0x10000022|expectedValue(t, "epsr"))
}

func TestWriteFullXPSR(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	setCoreRegs(t, m, false)

	assertRead(t, c, "xpsr", expectedXPSR(t))
	if err := c.WriteRegister("xpsr", 0xffffffff); err != nil {
		t.Fatal(err)
	}
	if got := m.get(t, "ipsr"); got != cortexm.IPSRMask {
		t.Errorf("core ipsr = %#x, want %#x", got, cortexm.IPSRMask)
	}
	if got := m.get(t, "apsr"); got != cortexm.APSRMask {
		t.Errorf("core apsr = %#x, want %#x", got, cortexm.APSRMask)
	}
	if got := m.get(t, "epsr"); got != cortexm.EPSRMask {
		t.Errorf("core epsr = %#x, want %#x", got, cortexm.EPSRMask)
	}
	assertRead(t, c, "xpsr", 0xffffffff)
}

func TestWriteCoalescesSharedConstituents(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	setCoreRegs(t, m, false)

	// One call writing cfbp and then primask: the later field write
	// wins and the whole request is one batched transport write.
	const packed = uint32(0x03<<24 | 0x01<<16 | 0x40<<8 | 0x01)
	before := m.writes
	err := c.WriteNamedRegistersRaw([]string{"cfbp", "primask"}, []uint32{packed, 0xaa})
	if err != nil {
		t.Fatal(err)
	}
	if m.writes != before+1 {
		t.Errorf("request took %d transport writes, want 1", m.writes-before)
	}
	if got := m.get(t, "primask"); got != 0xaa {
		t.Errorf("core primask = %#x, want 0xaa", got)
	}
	if got := m.get(t, "control"); got != 0x03 {
		t.Errorf("core control = %#x, want 0x03", got)
	}
	assertRead(t, c, "cfbp", 0x03<<24|0x01<<16|0x40<<8|0xaa)
}

func TestBatchedRead(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	setCoreRegs(t, m, false)

	// A fresh cache resolves a mixed physical/composite request with a
	// single transport round trip.
	if _, err := c.ReadNamedRegistersRaw([]string{"r0", "r1", "cfbp", "xpsr"}); err != nil {
		t.Fatal(err)
	}
	if m.reads != 1 {
		t.Errorf("request took %d transport reads, want 1", m.reads)
	}
}

func TestUnknownRegister(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	m.set(t, "r0", 7)
	assertRead(t, c, "r0", 7)
	m.set(t, "r0", 8)
	reads, writes := m.reads, m.writes

	var unknown *cortexm.UnknownRegisterError
	if _, err := c.ReadRegistersRaw([]cortexm.Reg{132423}); !errors.As(err, &unknown) {
		t.Errorf("read of invalid index returned %v, want UnknownRegisterError", err)
	}
	if err := c.WriteRegistersRaw([]cortexm.Reg{132423}, []uint32{1234}); !errors.As(err, &unknown) {
		t.Errorf("write of invalid index returned %v, want UnknownRegisterError", err)
	}
	if _, err := c.ReadNamedRegistersRaw([]string{"xyzzy"}); !errors.As(err, &unknown) {
		t.Errorf("read of invalid name returned %v, want UnknownRegisterError", err)
	}

	if m.reads != reads || m.writes != writes {
		t.Error("invalid requests reached the transport")
	}
	// Cache entries survive a rejected request.
	assertRead(t, c, "r0", 7)
}

func TestFPUGating(t *testing.T) {
	m := newMockCore()
	m.fpu = false
	c := NewRegisterCache(m)

	var unavail *RegisterUnavailableError
	if _, err := c.ReadNamedRegistersRaw([]string{"s1"}); !errors.As(err, &unavail) {
		t.Errorf("read of s1 without FPU returned %v, want RegisterUnavailableError", err)
	}
	if err := c.WriteNamedRegistersRaw([]string{"s1"}, []uint32{0x3f800000}); !errors.As(err, &unavail) {
		t.Errorf("write of s1 without FPU returned %v, want RegisterUnavailableError", err)
	}
	if _, err := c.ReadNamedRegistersRaw([]string{"fpscr"}); !errors.As(err, &unavail) {
		t.Errorf("read of fpscr without FPU returned %v, want RegisterUnavailableError", err)
	}
	if m.reads != 0 || m.writes != 0 {
		t.Errorf("FPU-gated requests reached the transport: %d reads, %d writes", m.reads, m.writes)
	}
}

func TestTransportReadFailure(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	m.set(t, "r0", 42)

	bang := errors.New("probe went away")
	m.readErr = bang
	if _, err := c.ReadNamedRegistersRaw([]string{"r0"}); !errors.Is(err, bang) {
		t.Fatalf("read returned %v, want transport error passed through", err)
	}
	// Nothing was cached by the failed fetch.
	m.readErr = nil
	m.set(t, "r0", 43)
	assertRead(t, c, "r0", 43)
}

func TestTransportWriteFailure(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	m.set(t, "r0", 42)
	assertRead(t, c, "r0", 42)

	bang := errors.New("probe went away")
	m.writeErr = bang
	if err := c.WriteRegister("r0", 1234); !errors.Is(err, bang) {
		t.Fatalf("write returned %v, want transport error passed through", err)
	}
	m.writeErr = nil
	// The failed write must not be reflected in the cache or the core.
	if got := m.get(t, "r0"); got != 42 {
		t.Errorf("core r0 = %d, want 42", got)
	}
	assertRead(t, c, "r0", 42)
}

func TestWriteLengthMismatch(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)
	if err := c.WriteNamedRegistersRaw([]string{"r0", "r1"}, []uint32{1}); err == nil {
		t.Error("mismatched names/values did not fail")
	}
	if m.writes != 0 {
		t.Error("mismatched request reached the transport")
	}
}

func TestFloatRegisterHelpers(t *testing.T) {
	m := newMockCore()
	c := NewRegisterCache(m)

	if err := c.WriteFloatRegister("s1", 1.234); err != nil {
		t.Fatal(err)
	}
	// The bit pattern is stored, not a numeric conversion.
	if got := m.get(t, "s1"); got != 0x3f9df3b6 {
		t.Errorf("core s1 = %#08x, want 0x3f9df3b6", got)
	}
	f, err := c.ReadFloatRegister("s1")
	if err != nil {
		t.Fatal(err)
	}
	if f != 1.234 {
		t.Errorf("s1 = %g, want 1.234", f)
	}
}
