// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package image

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/cavaliergopher/cpio"
)

// Load reads the executable. If archive is not empty, name is the path of
// a member in the cpio archive at that path. Otherwise it is a file path.
func Load(archive, name string) ([]byte, error) {
	if archive == "" {
		return ReadFile(name)
	}

	file, err := os.Open(archive)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	return ReadMember(file, name)
}

// ReadFile reads the executable file at the given path.
func ReadFile(name string) ([]byte, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read executable: %w", err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, name)
	}

	return data, nil
}

// ReadMember reads the regular file with the given name from the cpio
// archive. Leading "/" and "./" of member names are ignored.
func ReadMember(r io.Reader, name string) ([]byte, error) {
	want := memberName(name)
	reader := cpio.NewReader(r)

	for {
		hdr, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}

		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}

		if memberName(hdr.Name) != want {
			continue
		}

		if !hdr.FileInfo().Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %s", ErrNotRegular, name)
		}

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, reader); err != nil {
			return nil, fmt.Errorf("read member %s: %w", name, err)
		}

		if buf.Len() == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmpty, name)
		}

		return buf.Bytes(), nil
	}
}

func memberName(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

// Validate checks that the data is a static x86-64 executable, so obviously
// wrong files are rejected before they are sent.
func Validate(data []byte) error {
	file, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		var formatErr *elf.FormatError
		if errors.As(err, &formatErr) {
			return fmt.Errorf("%w: %w", ErrNotELFFile, err)
		}

		return fmt.Errorf("parse executable: %w", err)
	}
	defer file.Close()

	if file.Machine != elf.EM_X86_64 {
		return fmt.Errorf("%w: %s", ErrMachineNotSupported, file.Machine)
	}

	if file.Type != elf.ET_EXEC {
		return fmt.Errorf("%w: %s", ErrNotExecutable, file.Type)
	}

	return nil
}
