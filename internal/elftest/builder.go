// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Default values for [Executable].
const (
	DefaultEntry  = 0x40200000 + 0x1000
	DefaultMarker = "HermitCore"
)

const (
	headerSize  = 64
	progSize    = 56
	noteNameOff = 12
)

// Segment is a program header with its file content.
type Segment struct {
	Type    elf.ProgType
	Flags   elf.ProgFlag
	Vaddr   uint64
	Data    []byte
	MemSize uint64
}

// Image describes an executable. Zero header fields are written as is, so
// broken headers can be built on purpose.
type Image struct {
	Magic    [4]byte
	Type     elf.Type
	Machine  elf.Machine
	Class    elf.Class
	Data     elf.Data
	Entry    uint64
	Segments []Segment
}

// Executable returns a valid x86-64 executable description with the given
// segments.
func Executable(segments ...Segment) Image {
	return Image{
		Magic:    [4]byte{0x7f, 'E', 'L', 'F'},
		Type:     elf.ET_EXEC,
		Machine:  elf.EM_X86_64,
		Class:    elf.ELFCLASS64,
		Data:     elf.ELFDATA2LSB,
		Entry:    DefaultEntry,
		Segments: segments,
	}
}

// Minimal returns an executable with one text segment at the entry
// address, a stack segment and the ABI note.
func Minimal() Image {
	return Executable(
		Load(DefaultEntry, elf.PF_R|elf.PF_X, []byte{0xf4, 0xeb, 0xfe}, 0),
		Stack(elf.PF_R|elf.PF_W),
		Note(DefaultMarker),
	)
}

// Load returns a loadable segment. If memSize is lower than the data size,
// the data size is used.
func Load(vaddr uint64, flags elf.ProgFlag, data []byte, memSize uint64) Segment {
	return Segment{
		Type:    elf.PT_LOAD,
		Flags:   flags,
		Vaddr:   vaddr,
		Data:    data,
		MemSize: max(memSize, uint64(len(data))),
	}
}

// Stack returns a GNU stack segment.
func Stack(flags elf.ProgFlag) Segment {
	return Segment{Type: elf.PT_GNU_STACK, Flags: flags}
}

// Note returns a note segment carrying the given name.
func Note(name string) Segment {
	data := make([]byte, noteNameOff, noteNameOff+len(name)+1)
	binary.LittleEndian.PutUint32(data[0:], uint32(len(name)+1))
	binary.LittleEndian.PutUint32(data[8:], 1)

	data = append(data, name...)
	data = append(data, 0)

	return Segment{
		Type:    elf.PT_NOTE,
		Flags:   elf.PF_R,
		Data:    data,
		MemSize: uint64(len(data)),
	}
}

// Bytes encodes the image. Program headers follow the file header and the
// segment contents follow the program headers in order.
func (i Image) Bytes() []byte {
	phnum := len(i.Segments)
	offset := uint64(headerSize + phnum*progSize)

	hdr := elf.Header64{
		Type:      uint16(i.Type),
		Machine:   uint16(i.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     i.Entry,
		Phoff:     headerSize,
		Ehsize:    headerSize,
		Phentsize: progSize,
		Phnum:     uint16(phnum),
	}
	copy(hdr.Ident[:], i.Magic[:])
	hdr.Ident[elf.EI_CLASS] = byte(i.Class)
	hdr.Ident[elf.EI_DATA] = byte(i.Data)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var buf bytes.Buffer

	_ = binary.Write(&buf, binary.LittleEndian, hdr)

	for _, seg := range i.Segments {
		prog := elf.Prog64{
			Type:   uint32(seg.Type),
			Flags:  uint32(seg.Flags),
			Off:    offset,
			Vaddr:  seg.Vaddr,
			Paddr:  seg.Vaddr,
			Filesz: uint64(len(seg.Data)),
			Memsz:  seg.MemSize,
			Align:  0x1000,
		}

		_ = binary.Write(&buf, binary.LittleEndian, prog)

		offset += uint64(len(seg.Data))
	}

	for _, seg := range i.Segments {
		buf.Write(seg.Data)
	}

	return buf.Bytes()
}
