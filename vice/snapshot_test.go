package vice_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c64bridge/vicebridge/vice"
)

func testSnapshot(label string) vice.Snapshot {
	mem := make([]byte, 0x10000)
	for i := range mem {
		mem[i] = byte(i >> 8)
	}
	return vice.Snapshot{
		Label:     label,
		Taken:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Version:   "3.7.1.0",
		Memory:    mem,
		Registers: []vice.RegisterValue{{ID: 0, Width: 1, Value: 0x12}, {ID: 3, Width: 2, Value: 0xE5CD}},
		Display: &vice.DisplaySnapshot{DebugWidth: 4, DebugHeight: 2, InnerWidth: 2, InnerHeight: 1,
			BitsPerPixel: 8, Pixels: []byte{1, 1, 1, 1, 6, 6, 6, 6}},
	}
}

func TestSnapshotMarshal(t *testing.T) {
	t.Parallel()

	t.Run("round_trip", func(t *testing.T) {
		s := testSnapshot("a")
		blob, err := vice.MarshalSnapshot(s)
		require.NoError(t, err)
		assert.Less(t, len(blob), len(s.Memory)/4) // memory is compressed

		got, err := vice.UnmarshalSnapshot(blob)
		require.NoError(t, err)
		assert.True(t, s.Taken.Equal(got.Taken))
		got.Taken = s.Taken
		assert.Equal(t, s, got)
	})

	t.Run("corrupt", func(t *testing.T) {
		_, err := vice.UnmarshalSnapshot([]byte{0xC1})
		assert.Error(t, err)
	})

	t.Run("key_content_addressed", func(t *testing.T) {
		k1 := vice.SnapshotKey("boot", []byte{1})
		assert.True(t, strings.HasPrefix(k1, "boot:"))
		assert.Equal(t, k1, vice.SnapshotKey("boot", []byte{1}))
		assert.NotEqual(t, k1, vice.SnapshotKey("boot", []byte{2}))
	})
}

func TestDiffSnapshots(t *testing.T) {
	t.Parallel()

	a := testSnapshot("before")
	b := testSnapshot("after")

	diff, err := vice.DiffSnapshots(a, b)
	require.NoError(t, err)
	assert.Empty(t, diff)

	b.Memory = bytes.Clone(a.Memory)
	b.Memory[0x0801] = 0xFF
	b.Registers = []vice.RegisterValue{{ID: 0, Width: 1, Value: 0x13}, {ID: 3, Width: 2, Value: 0xE5CD}}
	diff, err = vice.DiffSnapshots(a, b)
	require.NoError(t, err)
	assert.Contains(t, diff, "--- before")
	assert.Contains(t, diff, "+++ after")
	assert.Contains(t, diff, "-reg 00 = 12")
	assert.Contains(t, diff, "+reg 00 = 13")
	assert.Contains(t, diff, "+0800: 08 ff 08")
}

func TestSnapshotStore(t *testing.T) {
	t.Parallel()

	store := vice.NewSnapshotStore(vice.NewMemStorage())
	k1, err := store.Save(testSnapshot("boot"))
	require.NoError(t, err)
	other := testSnapshot("run")
	other.Memory[0] = 0x2F
	k2, err := store.Save(other)
	require.NoError(t, err)

	keys, err := store.Keys("boot")
	require.NoError(t, err)
	assert.Equal(t, []string{k1}, keys)
	keys, err = store.Keys("")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{k1, k2}, keys)

	got, ok, err := store.Load(k2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, byte(0x2F), got.Memory[0])

	require.NoError(t, store.Delete(k2))
	_, ok, err = store.Load(k2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCaptureRestoreSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newMock(t)
	c := connect(t, srv, vice.SessionOptions{})

	_, err := c.CheckpointCreate(ctx, vice.CheckpointSpec{Start: 0xC000, Operations: vice.Operations{Execute: true}})
	require.NoError(t, err)
	require.NoError(t, c.MemSet(ctx, 0xC000, []byte{0xA9, 0x01}))
	_, err = c.RegistersSet(ctx, vice.MainMemory, []vice.RegisterWrite{vice.SetRegister("A", 0x42)}, nil)
	require.NoError(t, err)

	snap, err := vice.CaptureSnapshot(ctx, c, vice.CaptureOptions{Label: "t", Display: true, Checkpoints: true})
	require.NoError(t, err)
	assert.Equal(t, "3.7.1.0", snap.Version)
	require.Len(t, snap.Memory, 0x10000)
	assert.Equal(t, []byte{0xA9, 0x01}, snap.Memory[0xC000:0xC002])
	assert.Len(t, snap.Checkpoints, 1)
	require.NotNil(t, snap.Display)
	assert.Equal(t, 4, srv.CommandCount(vice.CmdMemGet))

	require.NoError(t, c.MemSet(ctx, 0xC000, []byte{0, 0}))
	_, err = c.RegistersSet(ctx, vice.MainMemory, []vice.RegisterWrite{vice.SetRegister("A", 0)}, nil)
	require.NoError(t, err)

	require.NoError(t, vice.RestoreSnapshot(ctx, c, snap))
	assert.Equal(t, []byte{0xA9, 0x01}, srv.Memory(0xC000, 0xC001))
	named, err := vice.NewRegisterCache(c).Named(ctx, vice.MainMemory)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x42), named["A"].Value)

	after, err := vice.CaptureSnapshot(ctx, c, vice.CaptureOptions{Label: "t2"})
	require.NoError(t, err)
	diff, err := vice.DiffSnapshots(snap, after)
	require.NoError(t, err)
	assert.Empty(t, diff)

	assert.ErrorIs(t, vice.RestoreSnapshot(ctx, c, vice.Snapshot{}), vice.ErrInvalidArgument)
}
