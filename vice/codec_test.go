package vice

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRecord(t *testing.T) {
	t.Parallel()

	cp := Checkpoint{
		ID:           7,
		CurrentlyHit: true,
		Start:        0xC000,
		End:          0xC0FF,
		StopOnHit:    true,
		Enabled:      true,
		Operations:   Operations{Execute: true, Store: true},
		HitCount:     3,
		IgnoreCount:  1,
		HasCondition: true,
		AddressSpace: Drive9,
	}
	body := CheckpointRecord(cp)
	require.Len(t, body, 23)
	assert.Equal(t, []byte{7, 0, 0, 0, 1, 0x00, 0xC0, 0xFF, 0xC0, 1, 1, 0x06}, body[:12])

	got, err := ParseCheckpoint(CmdCheckpointGet, body)
	require.NoError(t, err)
	assert.Equal(t, cp, got)
	assert.Equal(t, "-sx", got.Operations.String())

	_, err = ParseCheckpoint(CmdCheckpointGet, body[:10])
	var shape *ResponseShapeError
	assert.True(t, errors.As(err, &shape))
}

func TestParseDisplay(t *testing.T) {
	t.Parallel()

	snap := DisplaySnapshot{DebugWidth: 4, DebugHeight: 2, OffsetX: 1, OffsetY: 0, InnerWidth: 2, InnerHeight: 1,
		BitsPerPixel: 8, Pixels: []byte{0, 1, 2, 3, 4, 5, 6, 7}}

	t.Run("round_trip", func(t *testing.T) {
		got, err := ParseDisplay(EncodeDisplay(snap))
		require.NoError(t, err)
		assert.Equal(t, snap, got)

		inner, err := got.Inner()
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2}, inner)
	})

	t.Run("extension_fields", func(t *testing.T) {
		body := EncodeDisplay(snap)
		body[0] = displayFieldsLen + 2
		ext := append(append(append([]byte{}, body[:4+displayFieldsLen]...), 0xEE, 0xEE), body[4+displayFieldsLen:]...)

		got, err := ParseDisplay(ext)
		require.NoError(t, err)
		assert.Equal(t, snap.Pixels, got.Pixels)
	})

	t.Run("buffer_length_mismatch", func(t *testing.T) {
		body := EncodeDisplay(snap)
		_, err := ParseDisplay(body[:len(body)-1])
		var shape *ResponseShapeError
		assert.True(t, errors.As(err, &shape))
	})

	t.Run("inner_out_of_range", func(t *testing.T) {
		bad := snap
		bad.InnerWidth = 5
		_, err := bad.Inner()
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestParseResourceValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body []byte
		want ResourceValue
	}{
		{name: "string", body: []byte{0, 3, 'a', 'b', 'c'}, want: StringResource("abc")},
		{name: "int32", body: []byte{1, 4, 0x01, 0x02, 0x00, 0x00}, want: IntResource(0x0201)},
		{name: "int8_unsigned", body: []byte{1, 1, 0xC8}, want: IntResource(200)},
		{name: "int16", body: []byte{1, 2, 0x34, 0x12}, want: IntResource(0x1234)},
		{name: "int16_unsigned", body: []byte{1, 2, 0xFF, 0xFF}, want: IntResource(0xFFFF)},
		{name: "int32_negative", body: []byte{1, 4, 0xFF, 0xFF, 0xFF, 0xFF}, want: IntResource(-1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseResourceValue(tc.body)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("int_bad_width", func(t *testing.T) {
		_, err := ParseResourceValue([]byte{1, 3, 0, 0, 0})
		assert.Error(t, err)
	})

	t.Run("encode_round_trip", func(t *testing.T) {
		body, err := EncodeResourceValue(IntResource(-300))
		require.NoError(t, err)
		got, err := ParseResourceValue(body)
		require.NoError(t, err)
		assert.Equal(t, int32(-300), got.Int)
	})
}

func TestParseInfo(t *testing.T) {
	t.Parallel()

	info, err := ParseInfo(EncodeInfo(EmulatorInfo{Version: []byte{3, 6, 0, 0}, SVNRevision: 42000}))
	require.NoError(t, err)
	assert.Equal(t, "3.6.0.0", info.VersionString())
	assert.Equal(t, "v3.6.0", info.Semver())
	assert.Equal(t, uint32(42000), info.SVNRevision)
	assert.True(t, info.AtLeast("v3.6.0"))
	assert.False(t, info.AtLeast("v3.7.0"))

	info, err = ParseInfo([]byte{2, 3, 5, 0})
	require.NoError(t, err)
	assert.Zero(t, info.SVNRevision)

	_, err = ParseInfo([]byte{4, 3})
	assert.Error(t, err)
}

func TestParseEvent(t *testing.T) {
	t.Parallel()

	ev, err := ParseEvent(Response{Type: ResponseStopped, RequestID: EventRequestID, Body: EncodePCEvent(0xE5CD)})
	require.NoError(t, err)
	assert.Equal(t, uint16(0xE5CD), ev.PC)
	assert.Contains(t, ev.String(), "e5cd")

	ev, err = ParseEvent(Response{Type: ResponseCheckpointInfo, RequestID: EventRequestID,
		Body: CheckpointRecord(Checkpoint{ID: 2, Start: 0x1000, End: 0x1000})})
	require.NoError(t, err)
	require.NotNil(t, ev.Checkpoint)
	assert.Equal(t, uint32(2), ev.Checkpoint.ID)

	ev, err = ParseEvent(Response{Type: ResponseJam, RequestID: EventRequestID})
	require.NoError(t, err)
	assert.Equal(t, ResponseJam, ev.Type)

	_, err = ParseEvent(Response{Type: ResponseResumed, RequestID: EventRequestID, Body: []byte{1}})
	assert.Error(t, err)
}
