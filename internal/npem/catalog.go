package npem

// Indication bit positions in the NPEM capability, control and state
// registers (PCIe r6.1 sec 7.9.19). The _DSM firmware method uses the same
// layout. Bits 24-31 are enclosure specific; their meaning depends on
// hardware and particular indications may be mutually exclusive.
const (
	BitOK        uint32 = 1 << 2
	BitLocate    uint32 = 1 << 3
	BitFail      uint32 = 1 << 4
	BitRebuild   uint32 = 1 << 5
	BitPFA       uint32 = 1 << 6
	BitHotspare  uint32 = 1 << 7
	BitICA       uint32 = 1 << 8
	BitIFA       uint32 = 1 << 9
	BitInvalid   uint32 = 1 << 10
	BitDisabled  uint32 = 1 << 11
	BitSpecific0 uint32 = 1 << 24
	BitSpecific1 uint32 = 1 << 25
	BitSpecific2 uint32 = 1 << 26
	BitSpecific3 uint32 = 1 << 27
	BitSpecific4 uint32 = 1 << 28
	BitSpecific5 uint32 = 1 << 29
	BitSpecific6 uint32 = 1 << 30
	BitSpecific7 uint32 = 1 << 31
)

// Special control register bits. These are not indications: enable must be
// asserted on every control write, and reset is never set by this package.
const (
	bitEnable uint32 = 1 << 0
	bitReset  uint32 = 1 << 1
)

// NPEM Capable bit in the capability register. Same position as bitEnable
// but a different register with a different meaning.
const bitCapable uint32 = 1 << 0

// Command-completed bit in the status register.
const bitCC uint32 = 1 << 0

// Indication is a single named status condition exposed as an independent
// on/off toggle. Immutable; exactly one bit is set in Bit.
type Indication struct {
	Bit  uint32
	Name string
}

// catalog lists every indication the NPEM register layout defines, in bit
// order. Toggle handle indices follow this order.
var catalog = []Indication{
	{Bit: BitOK, Name: "ok"},
	{Bit: BitLocate, Name: "locate"},
	{Bit: BitFail, Name: "fail"},
	{Bit: BitRebuild, Name: "rebuild"},
	{Bit: BitPFA, Name: "pfa"},
	{Bit: BitHotspare, Name: "hotspare"},
	{Bit: BitICA, Name: "ica"},
	{Bit: BitIFA, Name: "ifa"},
	{Bit: BitInvalid, Name: "invalid"},
	{Bit: BitDisabled, Name: "disabled"},
	{Bit: BitSpecific0, Name: "specific0"},
	{Bit: BitSpecific1, Name: "specific1"},
	{Bit: BitSpecific2, Name: "specific2"},
	{Bit: BitSpecific3, Name: "specific3"},
	{Bit: BitSpecific4, Name: "specific4"},
	{Bit: BitSpecific5, Name: "specific5"},
	{Bit: BitSpecific6, Name: "specific6"},
	{Bit: BitSpecific7, Name: "specific7"},
}

// ForEach visits every catalog entry exactly once, in declaration order.
func ForEach(f func(i int, ind Indication)) {
	for i, ind := range catalog {
		f(i, ind)
	}
}

// Lookup returns the catalog entry with the given name.
func Lookup(name string) (Indication, bool) {
	for _, ind := range catalog {
		if ind.Name == name {
			return ind, true
		}
	}
	return Indication{}, false
}

// CatalogMask is the union of all catalog bits. Capability word bits outside
// this mask are never acted upon.
func CatalogMask() uint32 {
	var mask uint32
	for _, ind := range catalog {
		mask |= ind.Bit
	}
	return mask
}

// Names returns the display names of the indications present in mask, in
// catalog order.
func Names(mask uint32) []string {
	names := make([]string, 0)
	for _, ind := range catalog {
		if mask&ind.Bit != 0 {
			names = append(names, ind.Name)
		}
	}
	return names
}
