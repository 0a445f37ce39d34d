package vice

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-analyze/bulk"
)

// RegisterDescriptor is the static description of one register in an address space.
type RegisterDescriptor struct {
	ID   uint8
	Name string
	Bits uint8
}

// Width returns the number of bytes needed to hold the register.
func (d RegisterDescriptor) Width() int {
	return (int(d.Bits) + 7) / 8
}

// RegisterValue is a register reading. Width is the byte count the emulator transmitted.
type RegisterValue struct {
	ID    uint8
	Width int
	Value uint32
}

// RegisterWrite sets one register, identified by Name when it is not empty and by ID otherwise.
type RegisterWrite struct {
	Name  string
	ID    uint8
	Value uint16
}

// SetRegister builds a write addressed by register name.
func SetRegister(name string, value uint16) RegisterWrite {
	return RegisterWrite{Name: name, Value: value}
}

// SetRegisterID builds a write addressed by register id.
func SetRegisterID(id uint8, value uint16) RegisterWrite {
	return RegisterWrite{ID: id, Value: value}
}

// RegistersAvailable returns the register descriptors of an address space.
func (c *Client) RegistersAvailable(ctx context.Context, space AddressSpace) ([]RegisterDescriptor, error) {
	if err := checkAddressSpace(space); err != nil {
		return nil, err
	}
	var w bodyWriter
	resp, err := c.call(ctx, CmdRegistersAvailable, w.u8(uint8(space)).bytes(), ResponseRegistersAvailable)
	if err != nil {
		return nil, err
	}
	r := newBodyReader(CmdRegistersAvailable, resp)
	count := int(r.u16("register count"))
	descs := make([]RegisterDescriptor, 0, count)
	for i := 0; i < count && r.err == nil; i++ {
		size := int(r.u8("register item size"))
		item := newBodyReader(CmdRegistersAvailable, r.take(size, "register item"))
		if r.err != nil {
			break
		}
		var d RegisterDescriptor
		d.ID = item.u8("register id")
		d.Bits = item.u8("register bits")
		d.Name = string(item.bytesN(int(item.u8("register name length")), "register name"))
		if item.err != nil {
			return nil, item.err
		}
		descs = append(descs, d)
	}
	if r.err != nil {
		return nil, r.err
	}
	return descs, nil
}

// RegistersGet returns the current register values of an address space.
func (c *Client) RegistersGet(ctx context.Context, space AddressSpace) ([]RegisterValue, error) {
	if err := checkAddressSpace(space); err != nil {
		return nil, err
	}
	var w bodyWriter
	resp, err := c.call(ctx, CmdRegistersGet, w.u8(uint8(space)).bytes(), ResponseRegisterInfo)
	if err != nil {
		return nil, err
	}
	return parseRegisterValues(CmdRegistersGet, resp)
}

// RegistersSet applies writes and returns the register values the emulator reports afterwards. Named writes are
// resolved against descs, which is fetched when nil. Unknown names fail before anything is sent.
func (c *Client) RegistersSet(ctx context.Context, space AddressSpace, writes []RegisterWrite, descs []RegisterDescriptor) ([]RegisterValue, error) {
	if err := checkAddressSpace(space); err != nil {
		return nil, err
	} else if len(writes) == 0 {
		return nil, fmt.Errorf("%w: no register writes", ErrInvalidArgument)
	}
	named := bulk.SliceFilter(func(rw RegisterWrite) bool { return rw.Name != "" }, writes)
	if len(named) > 0 && descs == nil {
		var err error
		if descs, err = c.RegistersAvailable(ctx, space); err != nil {
			return nil, fmt.Errorf("failed to resolve register names: %w", err)
		}
	}

	w := (&bodyWriter{}).u8(uint8(space)).u16(uint16(len(writes)))
	for _, rw := range writes {
		id := rw.ID
		if rw.Name != "" {
			d, ok := findRegister(descs, rw.Name)
			if !ok {
				return nil, &UnknownRegisterError{Name: rw.Name}
			} else if d.Bits < 16 && uint32(rw.Value) >= 1<<d.Bits {
				return nil, fmt.Errorf("%w: value $%x does not fit %d bit register %s", ErrInvalidArgument, rw.Value, d.Bits, d.Name)
			}
			id = d.ID
		}
		w.u8(3).u8(id).u16(rw.Value)
	}
	resp, err := c.call(ctx, CmdRegistersSet, w.bytes(), ResponseRegisterInfo)
	if err != nil {
		return nil, err
	}
	return parseRegisterValues(CmdRegistersSet, resp)
}

func parseRegisterValues(cmd CommandID, body []byte) ([]RegisterValue, error) {
	r := newBodyReader(cmd, body)
	count := int(r.u16("register count"))
	values := make([]RegisterValue, 0, count)
	for i := 0; i < count && r.err == nil; i++ {
		size := int(r.u8("register item size"))
		item := newBodyReader(cmd, r.take(size, "register item"))
		if r.err != nil {
			break
		}
		id := item.u8("register id")
		raw := item.bytesN(size-1, "register value")
		if item.err != nil {
			return nil, item.err
		} else if len(raw) > 4 {
			return nil, &ResponseShapeError{Command: cmd, Detail: fmt.Sprintf("register %d value is %d bytes", id, len(raw))}
		}
		var v uint32
		for j := len(raw) - 1; j >= 0; j-- {
			v = v<<8 | uint32(raw[j])
		}
		values = append(values, RegisterValue{ID: id, Width: len(raw), Value: v})
	}
	if r.err != nil {
		return nil, r.err
	}
	return values, nil
}

func findRegister(descs []RegisterDescriptor, name string) (RegisterDescriptor, bool) {
	for _, d := range descs {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return RegisterDescriptor{}, false
}

// RegisterCache remembers register descriptors per address space, since they do not change for a running
// emulator.
type RegisterCache struct {
	client *Client
	mu     sync.Mutex
	descs  map[AddressSpace][]RegisterDescriptor
}

// NewRegisterCache creates a cache that queries c on first use of each address space.
func NewRegisterCache(c *Client) *RegisterCache {
	return &RegisterCache{client: c, descs: make(map[AddressSpace][]RegisterDescriptor)}
}

// Descriptors returns the cached descriptors for space, fetching them once.
func (rc *RegisterCache) Descriptors(ctx context.Context, space AddressSpace) ([]RegisterDescriptor, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if d, ok := rc.descs[space]; ok {
		return d, nil
	}
	d, err := rc.client.RegistersAvailable(ctx, space)
	if err != nil {
		return nil, err
	}
	rc.descs[space] = d
	return d, nil
}

// Lookup resolves a register name in space.
func (rc *RegisterCache) Lookup(ctx context.Context, space AddressSpace, name string) (RegisterDescriptor, error) {
	descs, err := rc.Descriptors(ctx, space)
	if err != nil {
		return RegisterDescriptor{}, err
	}
	d, ok := findRegister(descs, name)
	if !ok {
		return RegisterDescriptor{}, &UnknownRegisterError{Name: name}
	}
	return d, nil
}

// Named returns the current values of space keyed by register name.
func (rc *RegisterCache) Named(ctx context.Context, space AddressSpace) (map[string]RegisterValue, error) {
	descs, err := rc.Descriptors(ctx, space)
	if err != nil {
		return nil, err
	}
	values, err := rc.client.RegistersGet(ctx, space)
	if err != nil {
		return nil, err
	}
	names := make(map[uint8]string, len(descs))
	for _, d := range descs {
		names[d.ID] = d.Name
	}
	result := make(map[string]RegisterValue, len(values))
	for _, v := range values {
		if name, ok := names[v.ID]; ok {
			result[name] = v
		}
	}
	return result, nil
}

// Set writes registers in space using the cached descriptors.
func (rc *RegisterCache) Set(ctx context.Context, space AddressSpace, writes ...RegisterWrite) ([]RegisterValue, error) {
	descs, err := rc.Descriptors(ctx, space)
	if err != nil {
		return nil, err
	}
	return rc.client.RegistersSet(ctx, space, writes, descs)
}
