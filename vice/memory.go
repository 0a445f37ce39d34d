package vice

import (
	"context"
	"fmt"
)

// AddressSpace selects the CPU context a memory, checkpoint or register command targets.
type AddressSpace uint8

const (
	MainMemory AddressSpace = 0
	Drive8     AddressSpace = 1
	Drive9     AddressSpace = 2
	Drive10    AddressSpace = 3
	Drive11    AddressSpace = 4
)

// Valid reports if the address space is one the emulator knows.
func (a AddressSpace) Valid() bool {
	return a <= Drive11
}

func (a AddressSpace) String() string {
	switch a {
	case MainMemory:
		return "main"
	case Drive8, Drive9, Drive10, Drive11:
		return fmt.Sprintf("drive%d", 7+int(a))
	}
	return fmt.Sprintf("space-%d", uint8(a))
}

func checkAddressSpace(a AddressSpace) error {
	if !a.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidAddressSpace, uint8(a))
	}
	return nil
}

// MaxMemSetChunk is the largest payload MemSetChunked sends in one command.
const MaxMemSetChunk = 0x1000

// memRangeHeader is the fixed prefix shared by memory get and set bodies.
type memRangeHeader struct {
	SideEffects uint8
	Start       uint16
	End         uint16
	Space       uint8
	Bank        uint16
}

type memOptions struct {
	space       AddressSpace
	bank        uint16
	sideEffects *bool
}

// MemOption adjusts a memory command.
type MemOption func(*memOptions)

// WithAddressSpace targets a drive CPU instead of the main computer.
func WithAddressSpace(space AddressSpace) MemOption {
	return func(o *memOptions) {
		o.space = space
	}
}

// WithBank selects a memory bank, see BanksAvailable.
func WithBank(bank uint16) MemOption {
	return func(o *memOptions) {
		o.bank = bank
	}
}

// WithSideEffects overrides the side effect flag. Reads default to a peek, writes default to applying side effects.
func WithSideEffects(enabled bool) MemOption {
	return func(o *memOptions) {
		o.sideEffects = &enabled
	}
}

func applyMemOptions(opts []MemOption, defaultSideEffects bool) (memOptions, uint8, error) {
	o := memOptions{space: MainMemory}
	for _, opt := range opts {
		opt(&o)
	}
	if err := checkAddressSpace(o.space); err != nil {
		return o, 0, err
	}
	sideEffects := defaultSideEffects
	if o.sideEffects != nil {
		sideEffects = *o.sideEffects
	}
	var flag uint8
	if sideEffects {
		flag = 1
	}
	return o, flag, nil
}

// MemGet reads the inclusive range [start, end].
func (c *Client) MemGet(ctx context.Context, start, end uint16, opts ...MemOption) ([]byte, error) {
	if end < start {
		return nil, fmt.Errorf("%w: memory range end $%04x before start $%04x", ErrInvalidArgument, end, start)
	}
	o, flag, err := applyMemOptions(opts, false)
	if err != nil {
		return nil, err
	}
	body, err := packStruct(&memRangeHeader{SideEffects: flag, Start: start, End: end, Space: uint8(o.space), Bank: o.bank})
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, CmdMemGet, body, ResponseMemGet)
	if err != nil {
		return nil, err
	}

	r := newBodyReader(CmdMemGet, resp)
	n := int(r.u16("length"))
	want := int(end) - int(start) + 1
	if n == 0 && want == 0x10000 {
		n = want // the length field wraps for a full 64K read
	}
	data := r.bytesN(n, "memory")
	if r.err != nil {
		return nil, r.err
	} else if n != want {
		return nil, &ResponseShapeError{Command: CmdMemGet, Detail: fmt.Sprintf("got %d bytes for a %d byte range", n, want)}
	}
	return data, nil
}

// MemSet writes data starting at start. The end address is derived from the payload length.
func (c *Client) MemSet(ctx context.Context, start uint16, data []byte, opts ...MemOption) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty memory write", ErrInvalidArgument)
	} else if int(start)+len(data)-1 > 0xFFFF {
		return fmt.Errorf("%w: %d bytes at $%04x runs past $ffff", ErrInvalidArgument, len(data), start)
	}
	o, flag, err := applyMemOptions(opts, true)
	if err != nil {
		return err
	}
	end := uint16(int(start) + len(data) - 1)
	header, err := packStruct(&memRangeHeader{SideEffects: flag, Start: start, End: end, Space: uint8(o.space), Bank: o.bank})
	if err != nil {
		return err
	}
	body := append(header, data...)
	_, err = c.call(ctx, CmdMemSet, body, ResponseMemSet)
	return err
}

// MemSetChunked writes data in commands of at most MaxMemSetChunk bytes.
func (c *Client) MemSetChunked(ctx context.Context, start uint16, data []byte, opts ...MemOption) error {
	if int(start)+len(data)-1 > 0xFFFF {
		return fmt.Errorf("%w: %d bytes at $%04x runs past $ffff", ErrInvalidArgument, len(data), start)
	}
	for off := 0; off < len(data); off += MaxMemSetChunk {
		chunk := data[off:min(off+MaxMemSetChunk, len(data))]
		if err := c.MemSet(ctx, uint16(int(start)+off), chunk, opts...); err != nil {
			return fmt.Errorf("chunk at $%04x: %w", int(start)+off, err)
		}
	}
	return nil
}

// KeyboardFeed types ASCII text into the keyboard buffer. Sessions opened below API version 2 receive an
// UnsupportedApiVersion error from the emulator.
func (c *Client) KeyboardFeed(ctx context.Context, text string) error {
	if len(text) == 0 || len(text) > 255 {
		return fmt.Errorf("%w: keyboard text must be 1-255 bytes, got %d", ErrInvalidArgument, len(text))
	}
	for i := 0; i < len(text); i++ {
		if text[i] > 0x7F {
			return fmt.Errorf("%w: non-ASCII byte 0x%02x in keyboard text", ErrInvalidArgument, text[i])
		}
	}
	var w bodyWriter
	_, err := c.call(ctx, CmdKeyboardFeed, w.str8(text).bytes(), ResponseKeyboardFeed)
	return err
}

// Bank is a named memory bank usable with WithBank.
type Bank struct {
	ID   uint16
	Name string
}

// BanksAvailable lists the memory banks of the main computer.
func (c *Client) BanksAvailable(ctx context.Context) ([]Bank, error) {
	resp, err := c.call(ctx, CmdBanksAvailable, nil, ResponseBanksAvailable)
	if err != nil {
		return nil, err
	}
	r := newBodyReader(CmdBanksAvailable, resp)
	count := int(r.u16("bank count"))
	banks := make([]Bank, 0, count)
	for i := 0; i < count && r.err == nil; i++ {
		size := int(r.u8("bank item size"))
		item := newBodyReader(CmdBanksAvailable, r.take(size, "bank item"))
		if r.err != nil {
			break
		}
		id := item.u16("bank id")
		name := item.bytesN(int(item.u8("bank name length")), "bank name")
		if item.err != nil {
			return nil, item.err
		}
		banks = append(banks, Bank{ID: id, Name: string(name)})
	}
	if r.err != nil {
		return nil, r.err
	}
	return banks, nil
}
