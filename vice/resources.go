package vice

import (
	"context"
	"fmt"
)

// ResourceType tags the value of an emulator resource.
type ResourceType uint8

const (
	ResourceString ResourceType = 0
	ResourceInt    ResourceType = 1
)

func (t ResourceType) String() string {
	switch t {
	case ResourceString:
		return "string"
	case ResourceInt:
		return "int"
	}
	return fmt.Sprintf("type-%d", uint8(t))
}

// ResourceValue holds either a string or an integer resource value, selected by Type.
type ResourceValue struct {
	Type   ResourceType
	String string
	Int    int32
}

// StringResource builds a string valued resource.
func StringResource(s string) ResourceValue {
	return ResourceValue{Type: ResourceString, String: s}
}

// IntResource builds an integer valued resource.
func IntResource(v int32) ResourceValue {
	return ResourceValue{Type: ResourceInt, Int: v}
}

func (v ResourceValue) encode() ([]byte, error) {
	switch v.Type {
	case ResourceString:
		if len(v.String) > 255 {
			return nil, fmt.Errorf("%w: string resource value is %d bytes, limit 255", ErrInvalidArgument, len(v.String))
		}
		return []byte(v.String), nil
	case ResourceInt:
		var w bodyWriter
		return w.u32(uint32(v.Int)).bytes(), nil
	}
	return nil, fmt.Errorf("%w: resource type %d", ErrInvalidArgument, uint8(v.Type))
}

func checkResourceName(name string) error {
	if len(name) == 0 || len(name) > 255 {
		return fmt.Errorf("%w: resource name must be 1-255 bytes, got %d", ErrInvalidArgument, len(name))
	}
	return nil
}

// ResourceGet reads an emulator resource.
func (c *Client) ResourceGet(ctx context.Context, name string) (ResourceValue, error) {
	if err := checkResourceName(name); err != nil {
		return ResourceValue{}, err
	}
	var w bodyWriter
	resp, err := c.call(ctx, CmdResourceGet, w.str8(name).bytes(), ResponseResourceGet)
	if err != nil {
		return ResourceValue{}, err
	}
	return ParseResourceValue(resp)
}

// ParseResourceValue decodes a resource-get response body.
func ParseResourceValue(body []byte) (ResourceValue, error) {
	r := newBodyReader(CmdResourceGet, body)
	typ := ResourceType(r.u8("resource type"))
	raw := r.bytesN(int(r.u8("resource length")), "resource value")
	if r.err != nil {
		return ResourceValue{}, r.err
	}
	switch typ {
	case ResourceString:
		return StringResource(string(raw)), nil
	case ResourceInt:
		var v uint32
		switch len(raw) {
		case 1, 2, 4:
			for j := len(raw) - 1; j >= 0; j-- {
				v = v<<8 | uint32(raw[j])
			}
		default:
			return ResourceValue{}, &ResponseShapeError{Command: CmdResourceGet, Detail: fmt.Sprintf("%d byte integer", len(raw))}
		}
		// narrow values are unsigned, only the full width carries a sign
		return IntResource(int32(v)), nil
	}
	return ResourceValue{}, &ResponseShapeError{Command: CmdResourceGet, Detail: fmt.Sprintf("unknown resource type %d", typ)}
}

// EncodeResourceValue produces a resource-get response body for v.
func EncodeResourceValue(v ResourceValue) ([]byte, error) {
	raw, err := v.encode()
	if err != nil {
		return nil, err
	}
	var w bodyWriter
	return w.u8(uint8(v.Type)).u8(uint8(len(raw))).raw(raw).bytes(), nil
}

// ResourceSet writes an emulator resource. Lengths are checked before sending.
func (c *Client) ResourceSet(ctx context.Context, name string, value ResourceValue) error {
	if err := checkResourceName(name); err != nil {
		return err
	}
	raw, err := value.encode()
	if err != nil {
		return err
	}
	var w bodyWriter
	w.u8(uint8(value.Type)).str8(name).u8(uint8(len(raw))).raw(raw)
	_, err = c.call(ctx, CmdResourceSet, w.bytes(), ResponseResourceSet)
	return err
}
