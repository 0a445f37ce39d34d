package vice_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c64bridge/vicebridge/vice"
)

func TestWaitForScreen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	hello := vice.ScreenCodes("HELLO")

	t.Run("naive_poll_never_sees_output", func(t *testing.T) {
		srv := newMock(t)
		c := connect(t, srv, vice.SessionOptions{})

		require.NoError(t, vice.LoadBasicProgram(ctx, c, vice.HelloProgram))
		require.NoError(t, c.KeyboardFeed(ctx, "RUN\r"))
		for i := 0; i < 5; i++ {
			screen, err := c.MemGet(ctx, vice.DefaultScreenStart, vice.DefaultScreenStart+999)
			require.NoError(t, err)
			assert.False(t, bytes.Contains(screen, hello))
		}
	})

	t.Run("resumes_between_polls", func(t *testing.T) {
		srv := newMock(t)
		c := connect(t, srv, vice.SessionOptions{})

		require.NoError(t, vice.LoadBasicProgram(ctx, c, vice.HelloProgram))
		require.NoError(t, c.KeyboardFeed(ctx, "RUN\r"))
		match, err := vice.WaitForScreen(ctx, c, vice.ScreenProbe{Pattern: hello, Interval: 5 * time.Millisecond})
		require.NoError(t, err)
		require.True(t, match.Found)
		assert.Equal(t, 2, match.Row)
		assert.Equal(t, 0, match.Col)
		assert.Equal(t, 2, match.Polls)
		assert.Equal(t, 1, srv.CommandCount(vice.CmdExit))
		assert.Contains(t, vice.ScreenLines(match.Screen)[2], "HELLO")
	})

	t.Run("timeout_is_not_an_error", func(t *testing.T) {
		c := connect(t, newMock(t), vice.SessionOptions{})

		match, err := vice.WaitForScreen(ctx, c, vice.ScreenProbe{Pattern: vice.ScreenCodes("NEVER"),
			Interval: 5 * time.Millisecond, Timeout: 40 * time.Millisecond})
		require.NoError(t, err)
		assert.False(t, match.Found)
		assert.Greater(t, match.Polls, 1)
		assert.Len(t, match.Screen, vice.ScreenColumns*vice.ScreenRows)
	})

	t.Run("any_text", func(t *testing.T) {
		c := connect(t, newMock(t), vice.SessionOptions{})

		match, err := vice.WaitForScreen(ctx, c, vice.ScreenProbe{AnyText: true})
		require.NoError(t, err)
		require.True(t, match.Found)
		assert.Equal(t, 0, match.Offset)
	})

	t.Run("from_row_skips_earlier_rows", func(t *testing.T) {
		c := connect(t, newMock(t), vice.SessionOptions{})

		match, err := vice.WaitForScreen(ctx, c, vice.ScreenProbe{Pattern: vice.ScreenCodes("READY."), FromRow: 1,
			Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond})
		require.NoError(t, err)
		assert.False(t, match.Found)
	})

	t.Run("no_pattern", func(t *testing.T) {
		c := connect(t, newMock(t), vice.SessionOptions{})

		_, err := vice.WaitForScreen(ctx, c, vice.ScreenProbe{})
		assert.ErrorIs(t, err, vice.ErrInvalidArgument)
	})

	t.Run("context_cancelled", func(t *testing.T) {
		c := connect(t, newMock(t), vice.SessionOptions{})
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := vice.WaitForScreen(cctx, c, vice.ScreenProbe{Pattern: hello})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// deafKeyboard accepts keyboard input without passing it to the guest.
type deafKeyboard struct {
	*vice.Client
}

func (deafKeyboard) KeyboardFeed(context.Context, string) error {
	return nil
}

func TestWaitForBasicReady(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("ready_with_prompt", func(t *testing.T) {
		srv := newMock(t)
		c := connect(t, srv, vice.SessionOptions{})

		result, err := vice.WaitForBasicReady(ctx, c, vice.BasicReadyProbe{ConfirmPrompt: true})
		require.NoError(t, err)
		assert.True(t, result.PointersOK)
		assert.True(t, result.PromptOK)
		assert.True(t, result.Ready(true))
		// the confirming prompt is printed below the cold start one
		assert.Equal(t, vice.ScreenCodes("READY."), srv.Memory(vice.DefaultScreenStart+vice.ScreenColumns,
			vice.DefaultScreenStart+vice.ScreenColumns+5))
	})

	t.Run("old_prompt_does_not_confirm", func(t *testing.T) {
		srv := newMock(t)
		c := connect(t, srv, vice.SessionOptions{})

		result, err := vice.WaitForBasicReady(ctx, deafKeyboard{c}, vice.BasicReadyProbe{ConfirmPrompt: true,
			Interval: 5 * time.Millisecond, PromptTimeout: 40 * time.Millisecond})
		require.NoError(t, err)
		assert.True(t, result.PointersOK)
		assert.False(t, result.PromptOK)
	})

	t.Run("pointers_not_initialized", func(t *testing.T) {
		srv := newMock(t)
		srv.SetMemory(0x2B, []byte{0, 0})
		c := connect(t, srv, vice.SessionOptions{})

		result, err := vice.WaitForBasicReady(ctx, c, vice.BasicReadyProbe{
			PointerTimeout: 40 * time.Millisecond, Interval: 5 * time.Millisecond, ConfirmPrompt: true})
		require.NoError(t, err)
		assert.False(t, result.PointersOK)
		assert.False(t, result.PromptOK)
		assert.False(t, result.Ready(false))
		assert.Zero(t, srv.CommandCount(vice.CmdKeyboardFeed))
		assert.Positive(t, srv.CommandCount(vice.CmdExit))
	})

	t.Run("pointers_only", func(t *testing.T) {
		srv := newMock(t)
		c := connect(t, srv, vice.SessionOptions{})

		result, err := vice.WaitForBasicReady(ctx, c, vice.BasicReadyProbe{})
		require.NoError(t, err)
		assert.True(t, result.Ready(false))
		assert.False(t, result.Ready(true))
		assert.Zero(t, srv.CommandCount(vice.CmdKeyboardFeed))
	})
}

func TestLoadBasicProgram(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newMock(t)
	c := connect(t, srv, vice.SessionOptions{})

	require.NoError(t, vice.LoadBasicProgram(ctx, c, vice.HelloProgram))
	end := vice.BasicStart + uint16(len(vice.HelloProgram))
	assert.Equal(t, vice.HelloProgram, srv.Memory(vice.BasicStart, end-1))
	assert.Equal(t, []byte{0x01, 0x08, byte(end), byte(end >> 8), byte(end), byte(end >> 8), byte(end), byte(end >> 8)},
		srv.Memory(0x2B, 0x32))

	assert.ErrorIs(t, vice.LoadBasicProgram(ctx, c, []byte{0}), vice.ErrInvalidArgument)
}
