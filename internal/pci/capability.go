package pci

// Extended capability space layout (PCIe r6.1 sec 7.6).
const (
	extCapStart = 0x100
	cfgSpaceEnd = 0x1000

	// ExtCapIDNPEM is the Native PCIe Enclosure Management extended
	// capability id.
	ExtCapIDNPEM uint16 = 0x0029
)

// DwordReader is the read half of config space access, enough to walk the
// capability list.
type DwordReader interface {
	ReadDword(offset int) (uint32, error)
}

// FindExtCapability walks the extended capability list looking for id. The
// second return reports whether the capability is present; the offset is only
// meaningful when it is true. The walk is bounded so a malformed or looping
// list terminates.
func FindExtCapability(r DwordReader, id uint16) (int, bool, error) {
	offset := extCapStart

	// Each capability occupies at least 8 bytes, so the list can hold at
	// most (4096-256)/8 entries.
	for visits := 0; visits < (cfgSpaceEnd-extCapStart)/8; visits++ {
		header, err := r.ReadDword(offset)
		if err != nil {
			return 0, false, err
		}
		// All-zeros and all-ones both mean "nothing here": absent list or
		// a device that dropped off the bus.
		if header == 0 || header == 0xffffffff {
			return 0, false, nil
		}

		if uint16(header&0xffff) == id {
			return offset, true, nil
		}

		next := int((header >> 20) & 0xfff)
		if next < extCapStart || next >= cfgSpaceEnd {
			return 0, false, nil
		}
		offset = next
	}
	return 0, false, nil
}
