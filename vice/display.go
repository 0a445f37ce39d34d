package vice

import (
	"context"
	"fmt"
)

// DisplayFormat selects the pixel format of a display snapshot.
type DisplayFormat uint8

const (
	DisplayIndexed8 DisplayFormat = 0
)

// DisplayOptions configures DisplayGet.
type DisplayOptions struct {
	// AlternateCanvas requests the secondary screen on machines that have one.
	AlternateCanvas bool
	Format          DisplayFormat
}

// DisplaySnapshot is a raw framebuffer with its geometry. The debug window is the full buffer, the inner rectangle
// at the offset is the visible screen.
type DisplaySnapshot struct {
	DebugWidth   uint16
	DebugHeight  uint16
	OffsetX      uint16
	OffsetY      uint16
	InnerWidth   uint16
	InnerHeight  uint16
	BitsPerPixel uint8
	Pixels       []byte
}

// displayFieldsLen is the byte count of displayHeader, declared as the first field of the response.
const displayFieldsLen = 13

type displayHeader struct {
	DebugWidth   uint16
	DebugHeight  uint16
	OffsetX      uint16
	OffsetY      uint16
	InnerWidth   uint16
	InnerHeight  uint16
	BitsPerPixel uint8
}

// DisplayGet captures the current framebuffer.
func (c *Client) DisplayGet(ctx context.Context, opts DisplayOptions) (DisplaySnapshot, error) {
	var w bodyWriter
	resp, err := c.call(ctx, CmdDisplayGet, w.u8(boolByte(opts.AlternateCanvas)).u8(uint8(opts.Format)).bytes(), ResponseDisplayGet)
	if err != nil {
		return DisplaySnapshot{}, err
	}
	return ParseDisplay(resp)
}

// ParseDisplay decodes a display-get response body. The declared buffer length must match the bytes present.
func ParseDisplay(body []byte) (DisplaySnapshot, error) {
	r := newBodyReader(CmdDisplayGet, body)
	fieldsLen := r.u32("display fields length")
	if r.err != nil {
		return DisplaySnapshot{}, r.err
	} else if fieldsLen < displayFieldsLen {
		return DisplaySnapshot{}, &ResponseShapeError{Command: CmdDisplayGet,
			Detail: fmt.Sprintf("declared fields length %d shorter than %d", fieldsLen, displayFieldsLen)}
	}
	var hdr displayHeader
	rest, err := unpackStruct(CmdDisplayGet, body[4:], &hdr)
	if err != nil {
		return DisplaySnapshot{}, err
	}
	// skip fields a newer emulator may append to the header
	r = newBodyReader(CmdDisplayGet, rest)
	r.take(int(fieldsLen)-displayFieldsLen, "display extension fields")
	bufLen := r.u32("display buffer length")
	if r.err != nil {
		return DisplaySnapshot{}, r.err
	} else if uint64(bufLen) != uint64(r.remaining()) {
		return DisplaySnapshot{}, &ResponseShapeError{Command: CmdDisplayGet,
			Detail: fmt.Sprintf("declared buffer length %d but %d bytes remain", bufLen, r.remaining())}
	}
	return DisplaySnapshot{
		DebugWidth:   hdr.DebugWidth,
		DebugHeight:  hdr.DebugHeight,
		OffsetX:      hdr.OffsetX,
		OffsetY:      hdr.OffsetY,
		InnerWidth:   hdr.InnerWidth,
		InnerHeight:  hdr.InnerHeight,
		BitsPerPixel: hdr.BitsPerPixel,
		Pixels:       r.bytesN(int(bufLen), "display buffer"),
	}, nil
}

// EncodeDisplay produces a display-get response body for snap.
func EncodeDisplay(snap DisplaySnapshot) []byte {
	hdr, _ := packStruct(&displayHeader{
		DebugWidth:   snap.DebugWidth,
		DebugHeight:  snap.DebugHeight,
		OffsetX:      snap.OffsetX,
		OffsetY:      snap.OffsetY,
		InnerWidth:   snap.InnerWidth,
		InnerHeight:  snap.InnerHeight,
		BitsPerPixel: snap.BitsPerPixel,
	})
	var w bodyWriter
	return w.u32(displayFieldsLen).raw(hdr).u32(uint32(len(snap.Pixels))).raw(snap.Pixels).bytes()
}

// Inner returns the visible rectangle of an 8 bit snapshot, row by row.
func (s DisplaySnapshot) Inner() ([]byte, error) {
	if s.BitsPerPixel != 8 {
		return nil, fmt.Errorf("%w: inner crop needs 8 bits per pixel, have %d", ErrInvalidArgument, s.BitsPerPixel)
	}
	stride := int(s.DebugWidth)
	if int(s.OffsetX)+int(s.InnerWidth) > stride ||
		(int(s.OffsetY)+int(s.InnerHeight))*stride > len(s.Pixels) {
		return nil, fmt.Errorf("%w: inner rectangle exceeds the buffer", ErrInvalidArgument)
	}
	out := make([]byte, 0, int(s.InnerWidth)*int(s.InnerHeight))
	for y := int(s.OffsetY); y < int(s.OffsetY)+int(s.InnerHeight); y++ {
		row := y*stride + int(s.OffsetX)
		out = append(out, s.Pixels[row:row+int(s.InnerWidth)]...)
	}
	return out, nil
}
