// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aibor/usertask/internal/mm"
)

const (
	progSize = 56
	// noteNameOffset is the offset of the name in a note entry, following
	// the name size, descriptor size and type words.
	noteNameOffset = 12
)

var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

// HeaderError is returned if the ELF header is not acceptable.
type HeaderError struct {
	Header elf.Header64
	Reason string
}

func (e *HeaderError) Error() string {
	return "invalid executable: " + e.Reason
}

func (*HeaderError) Unwrap() error {
	return mm.ErrInvalidArgument
}

// LogAttrs returns all validated header fields as log attributes.
func (e *HeaderError) LogAttrs() []any {
	return []any{
		slog.String("magic", fmt.Sprintf("%#x", binary.LittleEndian.Uint32(e.Header.Ident[:4]))),
		slog.String("type", fmt.Sprintf("%#x", e.Header.Type)),
		slog.String("machine", fmt.Sprintf("%#x", e.Header.Machine)),
		slog.String("class", fmt.Sprintf("%#x", e.Header.Ident[elf.EI_CLASS])),
		slog.String("data", fmt.Sprintf("%#x", e.Header.Ident[elf.EI_DATA])),
		slog.String("entry", fmt.Sprintf("%#x", e.Header.Entry)),
	}
}

// Image is a read-only view of an ELF executable.
type Image struct {
	Header elf.Header64
	Progs  []elf.Prog64

	data []byte
}

// ParseImage decodes the header and all program headers of the given
// executable. All records are bounds checked, so later access to segment
// content cannot fail.
func ParseImage(data []byte) (*Image, error) {
	img := &Image{data: data}

	if _, err := binary.Decode(data, binary.LittleEndian, &img.Header); err != nil {
		return nil, fmt.Errorf("%w: truncated header: %w", mm.ErrInvalidArgument, err)
	}

	if err := ValidateHeader(img.Header); err != nil {
		return nil, err
	}

	hdr := img.Header
	if hdr.Phnum > 0 && hdr.Phentsize < progSize {
		return nil, fmt.Errorf("%w: program header size %d", mm.ErrInvalidArgument, hdr.Phentsize)
	}

	img.Progs = make([]elf.Prog64, hdr.Phnum)

	for idx := range img.Progs {
		offset := hdr.Phoff + uint64(idx)*uint64(hdr.Phentsize)

		record, err := img.slice(offset, progSize)
		if err != nil {
			return nil, fmt.Errorf("program header %d: %w", idx, err)
		}

		prog := &img.Progs[idx]
		if _, err := binary.Decode(record, binary.LittleEndian, prog); err != nil {
			return nil, fmt.Errorf("%w: program header %d: %w", mm.ErrInvalidArgument, idx, err)
		}

		if err := validateProg(img, prog); err != nil {
			return nil, fmt.Errorf("program header %d: %w", idx, err)
		}
	}

	return img, nil
}

// ValidateHeader checks that the header describes a static x86-64 little
// endian executable whose entry point lies above the kernel.
func ValidateHeader(hdr elf.Header64) error {
	var reason string

	switch {
	case !bytes.Equal(hdr.Ident[:4], elfMagic[:]):
		reason = "magic"
	case elf.Type(hdr.Type) != elf.ET_EXEC:
		reason = "type " + elf.Type(hdr.Type).String()
	case elf.Machine(hdr.Machine) != elf.EM_X86_64:
		reason = "machine " + elf.Machine(hdr.Machine).String()
	case elf.Class(hdr.Ident[elf.EI_CLASS]) != elf.ELFCLASS64:
		reason = "class " + elf.Class(hdr.Ident[elf.EI_CLASS]).String()
	case elf.Data(hdr.Ident[elf.EI_DATA]) != elf.ELFDATA2LSB:
		reason = "data " + elf.Data(hdr.Ident[elf.EI_DATA]).String()
	case hdr.Entry <= KernelSpace:
		reason = fmt.Sprintf("entry %#x in kernel space", hdr.Entry)
	default:
		return nil
	}

	return &HeaderError{Header: hdr, Reason: reason}
}

func validateProg(img *Image, prog *elf.Prog64) error {
	switch elf.ProgType(prog.Type) {
	case elf.PT_LOAD:
		if prog.Vaddr == 0 || prog.Memsz == 0 {
			return nil
		}

		if prog.Filesz > prog.Memsz {
			return fmt.Errorf("%w: file size %#x exceeds memory size %#x",
				mm.ErrInvalidArgument, prog.Filesz, prog.Memsz)
		}

		if prog.Vaddr+prog.Memsz < prog.Vaddr {
			return fmt.Errorf("%w: segment wraps around", mm.ErrInvalidArgument)
		}
	case elf.PT_NOTE:
	default:
		return nil
	}

	_, err := img.slice(prog.Off, prog.Filesz)

	return err
}

// Segment returns the file content of the program header.
func (i *Image) Segment(prog elf.Prog64) []byte {
	data, err := i.slice(prog.Off, prog.Filesz)
	if err != nil {
		return nil
	}

	return data
}

// HasMarker returns whether the note segment carries the given name.
func (i *Image) HasMarker(prog elf.Prog64, marker string) bool {
	data := i.Segment(prog)
	if len(data) <= noteNameOffset {
		return false
	}

	name, _, found := bytes.Cut(data[noteNameOffset:], []byte{0})

	return found && string(name) == marker
}

var errTruncated = errors.New("image truncated")

func (i *Image) slice(offset, size uint64) ([]byte, error) {
	end := offset + size
	if end < offset || end > uint64(len(i.data)) {
		return nil, fmt.Errorf("%w: %w: %#x+%#x", mm.ErrInvalidArgument, errTruncated, offset, size)
	}

	return i.data[offset:end], nil
}
