// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package loader_test

import (
	"testing"

	"github.com/aibor/usertask/internal/loader"
	"github.com/aibor/usertask/internal/mm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(t *testing.T, exe []byte, args ...string) *loader.Request {
	t.Helper()

	req := loader.NewRequest(nil)
	req.Executable = exe
	req.Argc = len(args)

	for _, arg := range args {
		buf, err := req.Append(len(arg))
		require.NoError(t, err)
		copy(buf, arg)
	}

	require.NoError(t, req.Terminate())

	return req
}

func TestRequest_Buffer(t *testing.T) {
	req := newRequest(t, nil, "a", "bb")

	assert.Equal(t, 4, req.Used())
	assert.Equal(t, []byte{0x61, 0x62, 0x62, 0x00}, req.Buffer[:req.Used()])
	assert.Equal(t, []int{1, 2}, req.Lengths())
	assert.Equal(t, []byte("a\x00bb\x00"), req.StringTable())
}

func TestRequest_Append(t *testing.T) {
	tests := []struct {
		name    string
		lengths []int
		err     error
	}{
		{
			name:    "fits",
			lengths: []int{loader.MaxArgs - 1},
		},
		{
			name:    "total reaches max",
			lengths: []int{100, loader.MaxArgs - 100},
			err:     mm.ErrInvalidArgument,
		},
		{
			name:    "zero length",
			lengths: []int{0},
			err:     mm.ErrInvalidArgument,
		},
		{
			name:    "negative length",
			lengths: []int{-1},
			err:     mm.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := loader.NewRequest(nil)

			var err error
			for _, length := range tt.lengths {
				if _, err = req.Append(length); err != nil {
					break
				}
			}

			require.ErrorIs(t, err, tt.err)
			assert.Less(t, req.Used(), loader.MaxArgs)
		})
	}
}

func TestRequest_Release(t *testing.T) {
	req := newRequest(t, []byte{1, 2, 3}, "a")

	req.Release()
	req.Release()

	assert.True(t, req.Released())
	assert.Nil(t, req.Executable)
	assert.Zero(t, req.Used())
	assert.Empty(t, req.StringTable())
}

func TestRequest_Released_Concurrent(t *testing.T) {
	req := newRequest(t, []byte{1}, "a")
	done := make(chan struct{})

	go func() {
		defer close(done)
		req.Release()
	}()

	// Reading while another goroutine releases.
	_ = req.Released()

	<-done

	assert.True(t, req.Released())
}
