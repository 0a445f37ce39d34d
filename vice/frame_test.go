package vice

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequest(t *testing.T) {
	t.Parallel()

	t.Run("header_layout", func(t *testing.T) {
		b := EncodeRequest(Request{RequestID: 0x01020304, Command: CmdMemGet, Body: []byte{0xAA, 0xBB}})
		assert.Equal(t, []byte{0x02, 0x02, 0x02, 0x00, 0x00, 0x00, 0x04, 0x03, 0x02, 0x01, 0x01, 0xAA, 0xBB}, b)
	})

	t.Run("explicit_version", func(t *testing.T) {
		b := EncodeRequest(Request{APIVersion: 1, Command: CmdPing})
		require.Len(t, b, requestHeaderLen)
		assert.Equal(t, byte(1), b[1])
	})

	t.Run("round_trip", func(t *testing.T) {
		req := Request{APIVersion: APIVersion, RequestID: 77, Command: CmdKeyboardFeed, Body: []byte("\x03RUN")}
		got, err := DecodeRequest(EncodeRequest(req))
		require.NoError(t, err)
		assert.Equal(t, req, got)
	})
}

func TestEncodeResponse(t *testing.T) {
	t.Parallel()

	resp := Response{APIVersion: APIVersion, Type: ResponseMemGet, Code: CodeOK, RequestID: 9, Body: []byte{2, 0, 1, 2}}
	b := EncodeResponse(resp)
	require.Len(t, b, responseHeaderLen+4)
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(b[2:]))
	assert.Equal(t, byte(ResponseMemGet), b[6])
	assert.Equal(t, uint32(9), binary.LittleEndian.Uint32(b[8:]))

	got, err := DecodeResponse(b)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
	assert.False(t, got.IsEvent())
}

func TestTryDecodeResponse(t *testing.T) {
	t.Parallel()

	frame := EncodeResponse(Response{Type: ResponsePing, RequestID: 5})
	event := EncodeResponse(Response{Type: ResponseStopped, RequestID: EventRequestID, Body: []byte{0x00, 0xC0}})

	t.Run("empty", func(t *testing.T) {
		_, consumed, ok := TryDecodeResponse(nil)
		assert.False(t, ok)
		assert.Zero(t, consumed)
	})

	t.Run("partial_header", func(t *testing.T) {
		_, consumed, ok := TryDecodeResponse(frame[:5])
		assert.False(t, ok)
		assert.Zero(t, consumed)
	})

	t.Run("partial_body", func(t *testing.T) {
		_, consumed, ok := TryDecodeResponse(event[:len(event)-1])
		assert.False(t, ok)
		assert.Zero(t, consumed)
	})

	t.Run("two_frames", func(t *testing.T) {
		buf := append(append([]byte{}, frame...), event...)
		first, consumed, ok := TryDecodeResponse(buf)
		require.True(t, ok)
		assert.Equal(t, len(frame), consumed)
		assert.Equal(t, uint32(5), first.RequestID)

		second, consumed2, ok := TryDecodeResponse(buf[consumed:])
		require.True(t, ok)
		assert.Equal(t, len(event), consumed2)
		assert.True(t, second.IsEvent())
		assert.Equal(t, []byte{0x00, 0xC0}, second.Body)
	})

	t.Run("leading_garbage", func(t *testing.T) {
		buf := append([]byte{0xFF, 0x00, 0x13}, frame...)
		resp, consumed, ok := TryDecodeResponse(buf)
		require.True(t, ok)
		assert.Equal(t, len(buf), consumed)
		assert.Equal(t, ResponsePing, resp.Type)
	})

	t.Run("leading_start_marker", func(t *testing.T) {
		memGet := EncodeResponse(Response{Type: ResponseMemGet, RequestID: 7, Body: []byte{1, 0, 0xAA, 0}})
		for _, stray := range [][]byte{{frameStart}, {frameStart, frameStart}, {frameStart, 0x01}} {
			buf := append(append([]byte{}, stray...), memGet...)
			resp, consumed, ok := TryDecodeResponse(buf)
			require.True(t, ok, "stray % x", stray)
			assert.Equal(t, len(buf), consumed)
			assert.Equal(t, ResponseMemGet, resp.Type)
			assert.Equal(t, uint32(7), resp.RequestID)
			assert.Equal(t, []byte{1, 0, 0xAA, 0}, resp.Body)
		}
	})

	t.Run("unknown_type_skipped", func(t *testing.T) {
		bogus := EncodeResponse(Response{Type: ResponseType(0x40), RequestID: 3})
		buf := append(bogus, frame...)
		resp, consumed, ok := TryDecodeResponse(buf)
		require.True(t, ok)
		assert.Equal(t, len(buf), consumed)
		assert.Equal(t, ResponsePing, resp.Type)
	})

	t.Run("unknown_command_reply_kept", func(t *testing.T) {
		reply := EncodeResponse(Response{Type: ResponseType(0x99), Code: CodeUnknownCommand, RequestID: 4})
		resp, consumed, ok := TryDecodeResponse(reply)
		require.True(t, ok)
		assert.Equal(t, len(reply), consumed)
		assert.Equal(t, CodeUnknownCommand, resp.Code)
	})

	t.Run("request_id_filter", func(t *testing.T) {
		issued := func(id uint32) bool { return id == EventRequestID || id <= 5 }
		stale := EncodeResponse(Response{Type: ResponsePing, RequestID: 90})
		buf := append(append([]byte{}, stale...), frame...)
		resp, consumed, ok := TryDecodeResponseFor(buf, issued)
		require.True(t, ok)
		assert.Equal(t, len(buf), consumed)
		assert.Equal(t, uint32(5), resp.RequestID)

		_, _, ok = TryDecodeResponseFor(event, issued)
		assert.True(t, ok)
	})

	t.Run("garbage_only", func(t *testing.T) {
		_, consumed, ok := TryDecodeResponse([]byte{0xFF, 0xFE, 0x00, 0x01})
		assert.False(t, ok)
		assert.Equal(t, 4, consumed)
	})

	t.Run("marker_with_bad_version", func(t *testing.T) {
		buf := append([]byte{0x02, 0x09}, frame...)
		resp, consumed, ok := TryDecodeResponse(buf)
		require.True(t, ok)
		assert.Equal(t, len(buf), consumed)
		assert.Equal(t, uint32(5), resp.RequestID)
	})

	t.Run("oversize_length_resync", func(t *testing.T) {
		bogus := make([]byte, responseHeaderLen)
		bogus[0], bogus[1] = frameStart, minAPIVersion
		binary.LittleEndian.PutUint32(bogus[2:], MaxBodyLength+1)
		buf := append(bogus, frame...)
		resp, consumed, ok := TryDecodeResponse(buf)
		require.True(t, ok)
		assert.Equal(t, len(buf), consumed)
		assert.Equal(t, ResponsePing, resp.Type)
	})

	t.Run("body_detached", func(t *testing.T) {
		buf := append([]byte{}, event...)
		resp, _, ok := TryDecodeResponse(buf)
		require.True(t, ok)
		buf[responseHeaderLen] = 0x55
		assert.Equal(t, byte(0x00), resp.Body[0])
	})
}

func TestDecodeResponseStrict(t *testing.T) {
	t.Parallel()

	valid := EncodeResponse(Response{Type: ResponseInfo, RequestID: 1, Body: []byte{1, 2, 3}})
	tests := []struct {
		name   string
		input  []byte
		offset int
	}{
		{name: "short", input: valid[:4], offset: 0},
		{name: "bad_marker", input: append([]byte{0x03}, valid[1:]...), offset: 0},
		{name: "bad_version", input: append([]byte{0x02, 0x07}, valid[2:]...), offset: 1},
		{name: "truncated_body", input: valid[:len(valid)-1], offset: 2},
		{name: "trailing_bytes", input: append(append([]byte{}, valid...), 0x00), offset: 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeResponse(tc.input)
			var decodeErr *ProtocolDecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, tc.offset, decodeErr.Offset)
		})
	}
}

func TestErrorCode(t *testing.T) {
	t.Parallel()

	assert.True(t, CodeInvalidParameter.Known())
	assert.False(t, ErrorCode(0x42).Known())
	assert.NotEmpty(t, CodeObjectNotFound.String())
	assert.Contains(t, ErrorCode(0x42).String(), "42")

	err := error(&RemoteCommandError{Command: CmdMemGet, Code: CodeInvalidAddressSpace})
	assert.True(t, IsRemoteCode(err, CodeInvalidAddressSpace))
	assert.False(t, IsRemoteCode(err, CodeObjectNotFound))
	assert.Equal(t, "memory-get", CmdMemGet.String())
}

func TestResponseTypeKnown(t *testing.T) {
	t.Parallel()

	for _, typ := range []ResponseType{ResponseMemGet, ResponseCheckpointInfo, ResponseCheckpointList, ResponseInfo,
		ResponseAutostart, ResponseJam, ResponseStopped, ResponseResumed} {
		assert.True(t, typ.Known(), typ.String())
	}
	for _, typ := range []ResponseType{0x00, 0x40, 0x64, 0x99, 0xFF} {
		assert.False(t, typ.Known(), typ.String())
	}
	assert.True(t, CmdKeyboardFeed.Known())
	assert.False(t, CommandID(0x99).Known())
}
