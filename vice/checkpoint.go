package vice

import (
	"context"
	"errors"
	"fmt"
)

const (
	opLoad    uint8 = 0x01
	opStore   uint8 = 0x02
	opExecute uint8 = 0x04
)

// Operations is the set of memory accesses a checkpoint triggers on.
type Operations struct {
	Execute bool
	Load    bool
	Store   bool
}

// Empty reports if no operation is selected.
func (o Operations) Empty() bool {
	return !o.Execute && !o.Load && !o.Store
}

func (o Operations) mask() uint8 {
	var m uint8
	if o.Load {
		m |= opLoad
	}
	if o.Store {
		m |= opStore
	}
	if o.Execute {
		m |= opExecute
	}
	return m
}

func operationsFromMask(m uint8) Operations {
	return Operations{Execute: m&opExecute != 0, Load: m&opLoad != 0, Store: m&opStore != 0}
}

func (o Operations) String() string {
	b := []byte("---")
	if o.Load {
		b[0] = 'l'
	}
	if o.Store {
		b[1] = 's'
	}
	if o.Execute {
		b[2] = 'x'
	}
	return string(b)
}

// Checkpoint is a breakpoint or watchpoint as reported by the emulator.
type Checkpoint struct {
	ID           uint32
	CurrentlyHit bool
	Start        uint16
	End          uint16
	StopOnHit    bool
	Enabled      bool
	Temporary    bool
	Operations   Operations
	HitCount     uint32
	IgnoreCount  uint32
	HasCondition bool
	AddressSpace AddressSpace
}

// checkpointRecord is the wire layout of a checkpoint info body.
type checkpointRecord struct {
	ID           uint32
	Hit          uint8
	Start        uint16
	End          uint16
	Stop         uint8
	Enabled      uint8
	Op           uint8
	Temporary    uint8
	HitCount     uint32
	IgnoreCount  uint32
	HasCondition uint8
	Space        uint8
}

func (r *checkpointRecord) checkpoint() Checkpoint {
	return Checkpoint{
		ID:           r.ID,
		CurrentlyHit: r.Hit != 0,
		Start:        r.Start,
		End:          r.End,
		StopOnHit:    r.Stop != 0,
		Enabled:      r.Enabled != 0,
		Temporary:    r.Temporary != 0,
		Operations:   operationsFromMask(r.Op),
		HitCount:     r.HitCount,
		IgnoreCount:  r.IgnoreCount,
		HasCondition: r.HasCondition != 0,
		AddressSpace: AddressSpace(r.Space),
	}
}

// CheckpointRecord converts cp to its wire body. It is exported for peers that answer checkpoint commands.
func CheckpointRecord(cp Checkpoint) []byte {
	rec := checkpointRecord{
		ID:           cp.ID,
		Hit:          boolByte(cp.CurrentlyHit),
		Start:        cp.Start,
		End:          cp.End,
		Stop:         boolByte(cp.StopOnHit),
		Enabled:      boolByte(cp.Enabled),
		Op:           cp.Operations.mask(),
		Temporary:    boolByte(cp.Temporary),
		HitCount:     cp.HitCount,
		IgnoreCount:  cp.IgnoreCount,
		HasCondition: boolByte(cp.HasCondition),
		Space:        uint8(cp.AddressSpace),
	}
	body, _ := packStruct(&rec) // fixed layout of sized fields, can not fail
	return body
}

// ParseCheckpoint decodes a checkpoint info body.
func ParseCheckpoint(cmd CommandID, body []byte) (Checkpoint, error) {
	var rec checkpointRecord
	if _, err := unpackStruct(cmd, body, &rec); err != nil {
		return Checkpoint{}, err
	}
	return rec.checkpoint(), nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// CheckpointSpec describes a checkpoint to create.
type CheckpointSpec struct {
	Start uint16
	// End is inclusive, zero means Start.
	End          uint16
	Operations   Operations
	Temporary    bool
	Disabled     bool
	NoStop       bool
	AddressSpace AddressSpace
}

type checkpointSetBody struct {
	Start     uint16
	End       uint16
	Stop      uint8
	Enabled   uint8
	Op        uint8
	Temporary uint8
	Space     uint8
}

// translateCheckpointErr maps the remote not-found code to an UnknownCheckpointError.
func translateCheckpointErr(id uint32, err error) error {
	if IsRemoteCode(err, CodeObjectNotFound) {
		return &UnknownCheckpointError{ID: id, Err: err}
	}
	return err
}

// CheckpointCreate creates a checkpoint and returns the record with its emulator assigned id.
func (c *Client) CheckpointCreate(ctx context.Context, spec CheckpointSpec) (Checkpoint, error) {
	if spec.Operations.Empty() {
		return Checkpoint{}, fmt.Errorf("%w: checkpoint needs at least one operation", ErrInvalidArgument)
	} else if err := checkAddressSpace(spec.AddressSpace); err != nil {
		return Checkpoint{}, err
	}
	end := spec.End
	if end == 0 {
		end = spec.Start
	}
	if end < spec.Start {
		return Checkpoint{}, fmt.Errorf("%w: checkpoint end $%04x before start $%04x", ErrInvalidArgument, end, spec.Start)
	}
	body, err := packStruct(&checkpointSetBody{
		Start:     spec.Start,
		End:       end,
		Stop:      boolByte(!spec.NoStop),
		Enabled:   boolByte(!spec.Disabled),
		Op:        spec.Operations.mask(),
		Temporary: boolByte(spec.Temporary),
		Space:     uint8(spec.AddressSpace),
	})
	if err != nil {
		return Checkpoint{}, err
	}
	resp, err := c.call(ctx, CmdCheckpointSet, body, ResponseCheckpointInfo)
	if err != nil {
		return Checkpoint{}, err
	}
	return ParseCheckpoint(CmdCheckpointSet, resp)
}

// CheckpointGet fetches one checkpoint.
func (c *Client) CheckpointGet(ctx context.Context, id uint32) (Checkpoint, error) {
	var w bodyWriter
	resp, err := c.call(ctx, CmdCheckpointGet, w.u32(id).bytes(), ResponseCheckpointInfo)
	if err != nil {
		return Checkpoint{}, translateCheckpointErr(id, err)
	}
	return ParseCheckpoint(CmdCheckpointGet, resp)
}

// CheckpointDelete removes a checkpoint.
func (c *Client) CheckpointDelete(ctx context.Context, id uint32) error {
	var w bodyWriter
	_, err := c.call(ctx, CmdCheckpointDelete, w.u32(id).bytes(), ResponseCheckpointDelete)
	return translateCheckpointErr(id, err)
}

// CheckpointToggle enables or disables a checkpoint.
func (c *Client) CheckpointToggle(ctx context.Context, id uint32, enabled bool) error {
	var w bodyWriter
	_, err := c.call(ctx, CmdCheckpointToggle, w.u32(id).u8(boolByte(enabled)).bytes(), ResponseCheckpointToggle)
	return translateCheckpointErr(id, err)
}

// CheckpointSetCondition attaches a condition expression, evaluated by the emulator, to a checkpoint.
func (c *Client) CheckpointSetCondition(ctx context.Context, id uint32, expr string) error {
	if len(expr) == 0 || len(expr) > 255 {
		return fmt.Errorf("%w: condition must be 1-255 bytes, got %d", ErrInvalidArgument, len(expr))
	}
	var w bodyWriter
	_, err := c.call(ctx, CmdConditionSet, w.u32(id).str8(expr).bytes(), ResponseConditionSet)
	return translateCheckpointErr(id, err)
}

// CheckpointList returns every checkpoint. The emulator streams one info frame per checkpoint and then a summary
// frame with the total, which must agree with the number of records received.
func (c *Client) CheckpointList(ctx context.Context) ([]Checkpoint, error) {
	var list []Checkpoint
	onItem := func(resp Response) error {
		if resp.Type != ResponseCheckpointInfo {
			return &ResponseShapeError{Command: CmdCheckpointList,
				Detail: fmt.Sprintf("unexpected %s frame in checkpoint stream", resp.Type)}
		}
		cp, err := ParseCheckpoint(CmdCheckpointList, resp.Body)
		if err != nil {
			return err
		}
		list = append(list, cp)
		return nil
	}
	resp, err := c.session.Send(ctx, CmdCheckpointList, nil, Streaming(ResponseCheckpointList, onItem))
	if err != nil {
		return nil, err
	}
	r := newBodyReader(CmdCheckpointList, resp.Body)
	count := r.u32("checkpoint count")
	if r.err != nil {
		return nil, r.err
	} else if int(count) != len(list) {
		return nil, &ResponseShapeError{Command: CmdCheckpointList,
			Detail: fmt.Sprintf("summary reports %d checkpoints, received %d", count, len(list))}
	}
	if list == nil {
		list = []Checkpoint{}
	}
	return list, nil
}

// IsUnknownCheckpoint reports if err is an UnknownCheckpointError.
func IsUnknownCheckpoint(err error) bool {
	var uce *UnknownCheckpointError
	return errors.As(err, &uce)
}
