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

func TestOwned(t *testing.T) {
	frames := mm.NewFrames(newPhysical(t, 8))
	owned := mm.NewOwned(frames)

	_, err := owned.Request(3)
	require.NoError(t, err)

	_, err = owned.Request(2)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), owned.Held())
	assert.Equal(t, uint64(3), frames.Free())

	_, err = owned.Request(4)
	require.ErrorIs(t, err, mm.ErrOutOfMemory)
	assert.Equal(t, uint64(5), owned.Held(), "failed request not held")

	assert.Equal(t, uint64(5), owned.ReleaseAll())
	assert.Equal(t, uint64(8), frames.Free())
	assert.Zero(t, owned.Held())

	assert.Zero(t, owned.ReleaseAll(), "second release")
}

func TestOwned_Reuse(t *testing.T) {
	frames := mm.NewFrames(newPhysical(t, 4))

	// More allocations in sequence than memory holds at once.
	for range 10 {
		owned := mm.NewOwned(frames)

		_, err := owned.Request(4)
		require.NoError(t, err)

		owned.ReleaseAll()
	}

	assert.Equal(t, uint64(4), frames.Free())
}
