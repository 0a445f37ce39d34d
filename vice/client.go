package vice

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/lunixbochs/struc"
)

// Client exposes the typed monitor commands over one Session.
type Client struct {
	session *Session
}

// Connect dials addr and wraps the resulting session.
func Connect(ctx context.Context, addr string, opts SessionOptions) (*Client, error) {
	s, err := Dial(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	return NewClient(s), nil
}

// NewClient wraps an existing session.
func NewClient(s *Session) *Client {
	return &Client{session: s}
}

// Session returns the underlying transport session.
func (c *Client) Session() *Session {
	return c.session
}

// Close closes the underlying session.
func (c *Client) Close() error {
	return c.session.Close()
}

// call sends a single-response command and returns the terminal frame body.
func (c *Client) call(ctx context.Context, cmd CommandID, body []byte, expect ResponseType) ([]byte, error) {
	resp, err := c.session.Send(ctx, cmd, body, Single(expect))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// packStruct encodes a fixed layout body.
func packStruct(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := struc.PackWithOrder(&buf, v, binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("failed to pack %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// unpackStruct decodes a fixed layout prefix of body into v, returning the remaining bytes.
func unpackStruct(cmd CommandID, body []byte, v interface{}) ([]byte, error) {
	size, err := struc.Sizeof(v)
	if err != nil {
		return nil, fmt.Errorf("failed to size %T: %w", v, err)
	} else if len(body) < size {
		return nil, &ResponseShapeError{Command: cmd, Detail: fmt.Sprintf("%d byte body shorter than %d byte record", len(body), size)}
	}
	if err := struc.UnpackWithOrder(bytes.NewReader(body[:size]), v, binary.LittleEndian); err != nil {
		return nil, &ResponseShapeError{Command: cmd, Detail: err.Error()}
	}
	return body[size:], nil
}

// bodyWriter builds variable length request bodies.
type bodyWriter struct {
	buf []byte
}

func (w *bodyWriter) u8(v uint8) *bodyWriter {
	w.buf = append(w.buf, v)
	return w
}

func (w *bodyWriter) u16(v uint16) *bodyWriter {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	return w
}

func (w *bodyWriter) u32(v uint32) *bodyWriter {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

func (w *bodyWriter) raw(p []byte) *bodyWriter {
	w.buf = append(w.buf, p...)
	return w
}

// str8 writes a length prefixed string, the caller validates the length.
func (w *bodyWriter) str8(s string) *bodyWriter {
	w.buf = append(w.buf, byte(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

func (w *bodyWriter) bytes() []byte {
	return w.buf
}

// bodyReader consumes response bodies. The first short read is recorded and all later reads return zero values,
// so callers check err once after decoding.
type bodyReader struct {
	cmd CommandID
	buf []byte
	off int
	err error
}

func newBodyReader(cmd CommandID, body []byte) *bodyReader {
	return &bodyReader{cmd: cmd, buf: body}
}

func (r *bodyReader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	} else if n < 0 || len(r.buf)-r.off < n {
		r.err = &ResponseShapeError{Command: r.cmd,
			Detail: fmt.Sprintf("response too short reading %s: need %d bytes at offset %d, have %d", what, n, r.off, len(r.buf)-r.off)}
		return nil
	}
	p := r.buf[r.off : r.off+n]
	r.off += n
	return p
}

func (r *bodyReader) u8(what string) uint8 {
	if p := r.take(1, what); p != nil {
		return p[0]
	}
	return 0
}

func (r *bodyReader) u16(what string) uint16 {
	if p := r.take(2, what); p != nil {
		return binary.LittleEndian.Uint16(p)
	}
	return 0
}

func (r *bodyReader) u32(what string) uint32 {
	if p := r.take(4, what); p != nil {
		return binary.LittleEndian.Uint32(p)
	}
	return 0
}

func (r *bodyReader) bytesN(n int, what string) []byte {
	p := r.take(n, what)
	if p == nil {
		return nil
	}
	return append([]byte(nil), p...)
}

func (r *bodyReader) remaining() int {
	return len(r.buf) - r.off
}
