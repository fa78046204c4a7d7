// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mm_test

import (
	"testing"

	"github.com/aibor/usertask/internal/mm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPhysical(t *testing.T, pages uint64) *mm.Physical {
	t.Helper()

	phys, err := mm.NewPhysical(0x100000, pages*mm.PageSize)
	require.NoError(t, err)

	return phys
}

func TestNewPhysical(t *testing.T) {
	_, err := mm.NewPhysical(0x100001, mm.PageSize)
	require.ErrorIs(t, err, mm.ErrInvalidArgument)

	_, err = mm.NewPhysical(0x100000, 0)
	require.ErrorIs(t, err, mm.ErrInvalidArgument)
}

func TestPhysical_Bytes(t *testing.T) {
	phys := newPhysical(t, 2)

	mem, err := phys.Bytes(0x100ff0, 0x20)
	require.NoError(t, err)
	assert.Len(t, mem, 0x20)

	_, err = phys.Bytes(0x101ff0, 0x20)
	require.ErrorIs(t, err, mm.ErrFault)

	_, err = phys.Bytes(0xff000, 1)
	require.ErrorIs(t, err, mm.ErrFault)
}

func TestFrames(t *testing.T) {
	frames := mm.NewFrames(newPhysical(t, 4))

	first, err := frames.Request(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x100000), first)

	second, err := frames.Request(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x102000), second)

	_, err = frames.Request(2)
	require.ErrorIs(t, err, mm.ErrOutOfMemory)

	frames.Release(first, 2)
	assert.Equal(t, uint64(3), frames.Free())

	third, err := frames.Request(2)
	require.NoError(t, err)
	assert.Equal(t, first, third)

	_, err = frames.Request(0)
	require.ErrorIs(t, err, mm.ErrInvalidArgument)
}

func TestSpace(t *testing.T) {
	phys := newPhysical(t, 4)
	space := mm.NewSpace(phys)

	assert.NotEqual(t, space.Root(), mm.NewSpace(phys).Root(), "roots unique")

	require.NoError(t, space.Map(0x40200000, 0x101000, 2, mm.PageUser|mm.PageRW))
	assert.Equal(t, 2, space.Mapped())

	t.Run("unaligned", func(t *testing.T) {
		err := space.Map(0x40200010, 0x101000, 1, mm.PageUser)
		require.ErrorIs(t, err, mm.ErrInvalidArgument)
	})

	t.Run("outside physical memory", func(t *testing.T) {
		err := space.Map(0x50000000, 0x104000, 1, mm.PageUser)
		require.ErrorIs(t, err, mm.ErrOutOfMemory)
	})

	t.Run("write across pages", func(t *testing.T) {
		data := []byte("crossing the page boundary")
		addr := uint64(0x40200ff8)

		require.NoError(t, space.Write(addr, data))

		actual := make([]byte, len(data))
		require.NoError(t, space.Read(addr, actual))
		assert.Equal(t, data, actual)

		mem, err := phys.Bytes(0x101ff8, 8)
		require.NoError(t, err)
		assert.Equal(t, data[:8], mem)
	})

	t.Run("zero", func(t *testing.T) {
		require.NoError(t, space.Zero(0x40200000, 2*mm.PageSize))

		actual := make([]byte, 16)
		require.NoError(t, space.Read(0x40200ff8, actual))
		assert.Equal(t, make([]byte, 16), actual)
	})

	t.Run("fault", func(t *testing.T) {
		err := space.Write(0x40201ffc, make([]byte, 8))
		require.ErrorIs(t, err, mm.ErrFault)
	})

	t.Run("set flags", func(t *testing.T) {
		require.NoError(t, space.SetFlags(0x40200000, 1, mm.PageUser))

		phys, flags, mapped := space.Lookup(0x40200123)
		require.True(t, mapped)
		assert.Equal(t, uint64(0x101123), phys)
		assert.Equal(t, mm.PagePresent|mm.PageUser, flags)

		err := space.SetFlags(0x40202000, 1, mm.PageUser)
		require.ErrorIs(t, err, mm.ErrFault)
	})
}
