// Package peimage is the PE container collaborator consumed by Reflo: given
// a file path it yields a byte image addressable by raw Address plus a
// sorted table of sections, and exposes the entry-point raw address. It
// wraps the standard library's debug/pe, which is the teacher's own choice
// of PE reader (mewmew-x/cmd/x/lifter.go, pe.go).
package peimage

import (
	"debug/pe"
	"sort"

	pkgerrors "github.com/pkg/errors"

	"rstc/internal/addr"
	"rstc/internal/rerr"
)

// Section is one mapped, executable-or-not region of the image. Start/End
// are raw addresses (image base + RVA), matching the "raw addresses" the
// rest of the pipeline works in; the PE virtual address is numerically the
// same value here, since this implementation's raw address space is simply
// the PE's own virtual address space.
type Section struct {
	Name  string
	Start addr.Address
	End   addr.Address
	Data  []byte
	Exec  bool
}

// contains reports whether a falls within the section's mapped range.
func (s Section) contains(a addr.Address) bool {
	return a >= s.Start && a < s.End
}

// Image is the decoded byte image plus its section table and entry point.
type Image struct {
	Sections   []Section
	EntryPoint addr.Address
	imageBase  uint64
}

const execCharacteristic = 0x20000000 // IMAGE_SCN_MEM_EXECUTE

// Open parses the PE file at path and builds an Image. It fails with a
// BadBinary error for anything that is not a 64-bit AMD64 executable.
func Open(path string) (*Image, error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, rerr.Wrap(rerr.BadBinary, err, "open PE file")
	}
	defer f.Close()

	if f.Machine != pe.IMAGE_FILE_MACHINE_AMD64 {
		return nil, rerr.New(rerr.BadBinary, "unsupported machine type %#x, want AMD64", f.Machine)
	}
	oh, ok := f.OptionalHeader.(*pe.OptionalHeader64)
	if !ok {
		return nil, rerr.New(rerr.BadBinary, "missing 64-bit optional header")
	}

	img := &Image{imageBase: oh.ImageBase}
	for _, sect := range f.Sections {
		data, err := sect.Data()
		if err != nil {
			// A section with no raw data (e.g. .bss) contributes no bytes
			// but still occupies address space.
			data = make([]byte, sect.VirtualSize)
		}
		start := addr.Address(oh.ImageBase + uint64(sect.VirtualAddress))
		end := addr.Address(uint64(start) + uint64(sect.VirtualSize))
		if uint64(len(data)) < uint64(sect.VirtualSize) {
			padded := make([]byte, sect.VirtualSize)
			copy(padded, data)
			data = padded
		}
		img.Sections = append(img.Sections, Section{
			Name:  sect.Name,
			Start: start,
			End:   end,
			Data:  data,
			Exec:  sect.Characteristics&execCharacteristic != 0,
		})
	}
	sort.Slice(img.Sections, func(i, j int) bool { return img.Sections[i].Start < img.Sections[j].Start })

	img.EntryPoint = addr.Address(oh.ImageBase + uint64(oh.AddressOfEntryPoint))
	return img, nil
}

// sectionAt returns the section containing a, or nil.
func (img *Image) sectionAt(a addr.Address) *Section {
	for i := range img.Sections {
		if img.Sections[i].contains(a) {
			return &img.Sections[i]
		}
	}
	return nil
}

// Bytes returns the byte slice starting at a and running to the end of its
// containing section.
func (img *Image) Bytes(a addr.Address) ([]byte, error) {
	sect := img.sectionAt(a)
	if sect == nil {
		return nil, pkgerrors.Errorf("address %v is not mapped in any section", a)
	}
	return sect.Data[a-sect.Start:], nil
}

// End returns the address just past the end of the section containing a,
// i.e. the decode bound used by Reflo when filling a CFGraph.
func (img *Image) End(a addr.Address) addr.Address {
	sect := img.sectionAt(a)
	if sect == nil {
		return addr.Nil
	}
	return sect.End
}

// Mapped reports whether a falls inside any section.
func (img *Image) Mapped(a addr.Address) bool {
	return img.sectionAt(a) != nil
}

// VirtualAddress converts a raw address to its PE virtual address for
// display purposes. In this implementation the two coincide, but the
// conversion is kept explicit so callers never assume that identity.
func (img *Image) VirtualAddress(a addr.Address) uint64 {
	return uint64(a)
}
