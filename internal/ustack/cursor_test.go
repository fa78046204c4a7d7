// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package ustack_test

import (
	"testing"

	"github.com/aibor/usertask/internal/mm"
	"github.com/aibor/usertask/internal/ustack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor(t *testing.T) {
	mem := make([]byte, 64)
	cursor := ustack.NewCursor(0x1000, mem)

	assert.Equal(t, uint64(64), cursor.Offset())
	assert.Equal(t, uint64(0x1040), cursor.Addr())

	require.NoError(t, cursor.Push([]byte("abc")))
	assert.Equal(t, uint64(0x103d), cursor.Addr())
	assert.Equal(t, []byte("abc"), cursor.Bytes())

	require.NoError(t, cursor.AlignDown(16))
	assert.Equal(t, uint64(0x1030), cursor.Addr())

	require.NoError(t, cursor.AlignDown(16))
	assert.Equal(t, uint64(0x1030), cursor.Addr(), "already aligned")

	require.NoError(t, cursor.PushPointer(0x1122334455667788))
	assert.Equal(t, []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}, mem[0x28:0x30])

	require.NoError(t, cursor.PutWord(0, 1))
	assert.Equal(t, byte(1), mem[0])

	t.Run("overflow", func(t *testing.T) {
		require.ErrorIs(t, cursor.Reserve(0x29), mm.ErrOutOfMemory)
		assert.Equal(t, uint64(0x28), cursor.Offset(), "unchanged")
	})

	t.Run("put out of bounds", func(t *testing.T) {
		require.ErrorIs(t, cursor.Put(60, make([]byte, 8)), mm.ErrInvalidArgument)
	})

	t.Run("seek out of bounds", func(t *testing.T) {
		require.ErrorIs(t, cursor.Seek(65), mm.ErrInvalidArgument)
	})
}
