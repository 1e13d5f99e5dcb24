package peimage

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rstc/internal/addr"
)

// buildMinimalPE64 writes the smallest PE debug/pe.NewFile will parse: a bare
// COFF FileHeader (no "MZ"/"PE\0\0" signature — NewFile falls back to reading
// the FileHeader at offset 0 when the file doesn't start with "MZ"), one
// OptionalHeader64 with NumberOfRvaAndSizes 0 (no data-directory bytes
// needed), and one section whose raw data is code. Every field is written
// individually via binary.Write to keep the layout packed, since a Go struct
// literal would pick up compiler alignment padding debug/pe does not expect.
func buildMinimalPE64(t *testing.T, imageBase uint64, sectionRVA uint32, code []byte, exec bool) string {
	t.Helper()

	const (
		fileHdrSz = 20
		optHdrSz  = 112
		sectHdrSz = 40
	)
	sectionOffset := uint32(fileHdrSz + optHdrSz + sectHdrSz)

	var buf bytes.Buffer
	w := func(v any) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, v)) }

	w(uint16(0x8664)) // Machine: AMD64
	w(uint16(1))       // NumberOfSections
	w(uint32(0))       // TimeDateStamp
	w(uint32(0))       // PointerToSymbolTable
	w(uint32(0))       // NumberOfSymbols
	w(uint16(optHdrSz))
	w(uint16(0x0022)) // Characteristics

	w(uint16(0x20b)) // Magic: PE32+
	w(uint8(0))
	w(uint8(0))
	w(uint32(0))
	w(uint32(0))
	w(uint32(0))
	w(sectionRVA) // AddressOfEntryPoint
	w(sectionRVA) // BaseOfCode
	w(imageBase)
	w(uint32(0x1000))
	w(uint32(0x200))
	w(uint16(6))
	w(uint16(0))
	w(uint16(0))
	w(uint16(0))
	w(uint16(6))
	w(uint16(0))
	w(uint32(0))
	w(uint32(sectionRVA + 0x1000)) // SizeOfImage
	w(sectionOffset)               // SizeOfHeaders
	w(uint32(0))
	w(uint16(3))
	w(uint16(0))
	w(uint64(0x100000))
	w(uint64(0x1000))
	w(uint64(0x100000))
	w(uint64(0x1000))
	w(uint32(0))
	w(uint32(0)) // NumberOfRvaAndSizes

	var name [8]byte
	copy(name[:], ".text")
	w(name)
	w(uint32(len(code))) // VirtualSize
	w(sectionRVA)        // VirtualAddress
	w(uint32(len(code))) // SizeOfRawData
	w(sectionOffset)     // PointerToRawData
	w(uint32(0))
	w(uint32(0))
	w(uint16(0))
	w(uint16(0))
	characteristics := uint32(0x40000020) // CNT_CODE | MEM_READ
	if exec {
		characteristics |= 0x20000000 // MEM_EXECUTE
	}
	w(characteristics)

	buf.Write(code)

	path := filepath.Join(t.TempDir(), "fixture.exe")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestOpenBuildsOneSectionWithEntryPointAtImageBasePlusRVA(t *testing.T) {
	code := []byte{0xC3} // ret
	path := buildMinimalPE64(t, 0x140000000, 0x1000, code, true)

	img, err := Open(path)
	require.NoError(t, err)

	require.Len(t, img.Sections, 1)
	assert.Equal(t, addr.Address(0x140001000), img.EntryPoint)
	assert.True(t, img.Sections[0].Exec)
	assert.Equal(t, ".text", img.Sections[0].Name)
}

func TestOpenRejectsNon64BitMachine(t *testing.T) {
	code := []byte{0xC3}
	path := buildMinimalPE64(t, 0x140000000, 0x1000, code, true)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint16(data[0:2], 0x014c) // IMAGE_FILE_MACHINE_I386
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(path)
	require.Error(t, err)
}

func TestBytesReturnsTheTailOfItsContainingSection(t *testing.T) {
	code := []byte{0x90, 0x90, 0xC3}
	path := buildMinimalPE64(t, 0x140000000, 0x1000, code, true)

	img, err := Open(path)
	require.NoError(t, err)

	entry := img.EntryPoint
	b, err := img.Bytes(entry.Add(1))
	require.NoError(t, err)
	assert.Equal(t, byte(0x90), b[0])
}

func TestBytesRejectsUnmappedAddress(t *testing.T) {
	code := []byte{0xC3}
	path := buildMinimalPE64(t, 0x140000000, 0x1000, code, true)

	img, err := Open(path)
	require.NoError(t, err)

	_, err = img.Bytes(addr.Address(0xdeadbeef))
	assert.Error(t, err)
}

func TestEndReturnsJustPastTheContainingSection(t *testing.T) {
	code := []byte{0xC3, 0xC3, 0xC3, 0xC3}
	path := buildMinimalPE64(t, 0x140000000, 0x1000, code, true)

	img, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, img.EntryPoint.Add(int64(len(code))), img.End(img.EntryPoint))
	assert.Equal(t, addr.Nil, img.End(addr.Address(0xdeadbeef)))
}

func TestMappedReportsWhetherAnAddressFallsInASection(t *testing.T) {
	code := []byte{0xC3}
	path := buildMinimalPE64(t, 0x140000000, 0x1000, code, true)

	img, err := Open(path)
	require.NoError(t, err)

	assert.True(t, img.Mapped(img.EntryPoint))
	assert.False(t, img.Mapped(addr.Address(0xdeadbeef)))
}

func TestVirtualAddressCoincidesWithRawAddress(t *testing.T) {
	code := []byte{0xC3}
	path := buildMinimalPE64(t, 0x140000000, 0x1000, code, true)

	img, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(img.EntryPoint), img.VirtualAddress(img.EntryPoint))
}
