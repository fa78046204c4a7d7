// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package image_test

import (
	"bytes"
	"debug/elf"
	"os"
	"path/filepath"
	"testing"

	"github.com/aibor/usertask/internal/elftest"
	"github.com/aibor/usertask/internal/image"
	"github.com/cavaliergopher/cpio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArchive(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer

	writer := cpio.NewWriter(&buf)

	require.NoError(t, writer.WriteHeader(&cpio.Header{
		Name:  "bin",
		Mode:  cpio.TypeDir | cpio.ModePerm,
		Links: 2,
	}))

	for name, data := range files {
		require.NoError(t, writer.WriteHeader(&cpio.Header{
			Name: name,
			Mode: cpio.TypeReg | 0o755,
			Size: int64(len(data)),
		}))

		_, err := writer.Write(data)
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	return buf.Bytes()
}

func TestReadMember(t *testing.T) {
	archive := writeArchive(t, map[string][]byte{
		"bin/hello": []byte("hello"),
		"bin/empty": nil,
	})

	tests := []struct {
		name     string
		member   string
		expected []byte
		err      error
	}{
		{
			name:     "plain",
			member:   "bin/hello",
			expected: []byte("hello"),
		},
		{
			name:     "absolute",
			member:   "/bin/hello",
			expected: []byte("hello"),
		},
		{
			name:     "relative",
			member:   "./bin/hello",
			expected: []byte("hello"),
		},
		{
			name:   "missing",
			member: "bin/other",
			err:    image.ErrNotFound,
		},
		{
			name:   "directory",
			member: "bin",
			err:    image.ErrNotRegular,
		},
		{
			name:   "empty",
			member: "bin/empty",
			err:    image.ErrEmpty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual, err := image.ReadMember(bytes.NewReader(archive), tt.member)
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.expected, actual)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	exe := elftest.Minimal().Bytes()

	exePath := filepath.Join(dir, "exe")
	require.NoError(t, os.WriteFile(exePath, exe, 0o600))

	archivePath := filepath.Join(dir, "initramfs.cpio")
	archive := writeArchive(t, map[string][]byte{"bin/exe": exe})
	require.NoError(t, os.WriteFile(archivePath, archive, 0o600))

	actual, err := image.Load("", exePath)
	require.NoError(t, err)
	assert.Equal(t, exe, actual)

	actual, err = image.Load(archivePath, "/bin/exe")
	require.NoError(t, err)
	assert.Equal(t, exe, actual)

	_, err = image.Load(filepath.Join(dir, "missing"), "/bin/exe")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(img *elftest.Image)
		data   []byte
		err    error
	}{
		{
			name: "valid",
		},
		{
			name: "not elf",
			data: []byte("#!/bin/sh\necho hello\n"),
			err:  image.ErrNotELFFile,
		},
		{
			name:   "machine",
			modify: func(img *elftest.Image) { img.Machine = elf.EM_AARCH64 },
			err:    image.ErrMachineNotSupported,
		},
		{
			name:   "type",
			modify: func(img *elftest.Image) { img.Type = elf.ET_DYN },
			err:    image.ErrNotExecutable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.data
			if data == nil {
				img := elftest.Minimal()
				if tt.modify != nil {
					tt.modify(&img)
				}

				data = img.Bytes()
			}

			require.ErrorIs(t, image.Validate(data), tt.err)
		})
	}
}
