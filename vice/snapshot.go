package vice

import (
	"context"
	"crypto/sha1"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/mtraver/base91"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	memorySize         = 0x10000
	snapshotReadChunk  = 0x4000
	snapshotKeyDivider = ":"
)

// Snapshot is the captured state of a machine.
type Snapshot struct {
	Label       string
	Taken       time.Time
	Version     string
	Space       AddressSpace
	Memory      []byte // full 64K address space
	Registers   []RegisterValue
	Checkpoints []Checkpoint
	Display     *DisplaySnapshot
}

// snapshotRecord is the stored form, with memory and pixels compressed.
type snapshotRecord struct {
	Label       string           `msgpack:"l"`
	Taken       time.Time        `msgpack:"t"`
	Version     string           `msgpack:"v,omitempty"`
	Space       uint8            `msgpack:"s"`
	MemoryZstd  []byte           `msgpack:"m"`
	Registers   []RegisterValue  `msgpack:"r"`
	Checkpoints []Checkpoint     `msgpack:"c,omitempty"`
	Display     *DisplaySnapshot `msgpack:"d,omitempty"`
}

// MarshalSnapshot encodes s for storage.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	rec := snapshotRecord{
		Label:       s.Label,
		Taken:       s.Taken,
		Version:     s.Version,
		Space:       uint8(s.Space),
		MemoryZstd:  zstdCompress(nil, s.Memory),
		Registers:   s.Registers,
		Checkpoints: s.Checkpoints,
	}
	if s.Display != nil {
		d := *s.Display
		d.Pixels = s2.EncodeSnappyBest(nil, d.Pixels)
		rec.Display = &d
	}
	return msgpack.Marshal(&rec)
}

// UnmarshalSnapshot decodes a blob produced by MarshalSnapshot.
func UnmarshalSnapshot(blob []byte) (Snapshot, error) {
	var rec snapshotRecord
	if err := msgpack.Unmarshal(blob, &rec); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	mem, err := zstdDecompress(make([]byte, 0, memorySize), rec.MemoryZstd)
	if err != nil {
		return Snapshot{}, fmt.Errorf("decompress snapshot memory: %w", err)
	}
	s := Snapshot{
		Label:       rec.Label,
		Taken:       rec.Taken,
		Version:     rec.Version,
		Space:       AddressSpace(rec.Space),
		Memory:      mem,
		Registers:   rec.Registers,
		Checkpoints: rec.Checkpoints,
		Display:     rec.Display,
	}
	if s.Display != nil {
		if s.Display.Pixels, err = snappy.Decode(nil, s.Display.Pixels); err != nil {
			return Snapshot{}, fmt.Errorf("decompress snapshot display: %w", err)
		}
	}
	return s, nil
}

func zstdCompress(dst, data []byte) []byte {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic(err) // only fails on invalid options
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, dst)
}

func zstdDecompress(dst, data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, dst)
}

// SnapshotKey derives a content addressed key for a stored blob.
func SnapshotKey(label string, blob []byte) string {
	sum := sha1.Sum(blob)
	return label + snapshotKeyDivider + base91.StdEncoding.EncodeToString(sum[:])
}

// CaptureOptions selects what CaptureSnapshot records.
type CaptureOptions struct {
	Label        string
	AddressSpace AddressSpace
	Display      bool
	Checkpoints  bool
}

// CaptureSnapshot reads the memory, registers and optionally the checkpoints and display of a halted machine.
// Memory is read without side effects.
func CaptureSnapshot(ctx context.Context, c *Client, opts CaptureOptions) (Snapshot, error) {
	s := Snapshot{Label: opts.Label, Taken: time.Now().UTC(), Space: opts.AddressSpace}
	if info, err := c.Info(ctx); err != nil {
		return s, fmt.Errorf("snapshot info: %w", err)
	} else {
		s.Version = info.VersionString()
	}

	s.Memory = make([]byte, 0, memorySize)
	for start := 0; start < memorySize; start += snapshotReadChunk {
		chunk, err := c.MemGet(ctx, uint16(start), uint16(start+snapshotReadChunk-1),
			WithAddressSpace(opts.AddressSpace), WithSideEffects(false))
		if err != nil {
			return s, fmt.Errorf("snapshot memory at $%04x: %w", start, err)
		}
		s.Memory = append(s.Memory, chunk...)
	}

	var err error
	if s.Registers, err = c.RegistersGet(ctx, opts.AddressSpace); err != nil {
		return s, fmt.Errorf("snapshot registers: %w", err)
	}
	if opts.Checkpoints {
		if s.Checkpoints, err = c.CheckpointList(ctx); err != nil {
			return s, fmt.Errorf("snapshot checkpoints: %w", err)
		}
	}
	if opts.Display {
		d, err := c.DisplayGet(ctx, DisplayOptions{})
		if err != nil {
			return s, fmt.Errorf("snapshot display: %w", err)
		}
		s.Display = &d
	}
	return s, nil
}

// restoreRanges skips the processor port and the I/O area, which do not hold restorable RAM contents.
var restoreRanges = [][2]int{
	{0x0002, 0xCFFF},
	{0xE000, 0xFFFF},
}

// RestoreSnapshot writes the snapshot's memory and registers back. Memory is written without side effects.
func RestoreSnapshot(ctx context.Context, c *Client, s Snapshot) error {
	if len(s.Memory) != memorySize {
		return fmt.Errorf("%w: snapshot holds %d bytes of memory", ErrInvalidArgument, len(s.Memory))
	}
	for _, r := range restoreRanges {
		if err := c.MemSetChunked(ctx, uint16(r[0]), s.Memory[r[0]:r[1]+1],
			WithAddressSpace(s.Space), WithSideEffects(false)); err != nil {
			return fmt.Errorf("restore memory: %w", err)
		}
	}
	writes := make([]RegisterWrite, 0, len(s.Registers))
	for _, rv := range s.Registers {
		if rv.Width <= 2 {
			writes = append(writes, SetRegisterID(rv.ID, uint16(rv.Value)))
		}
	}
	if len(writes) == 0 {
		return nil
	}
	if _, err := c.RegistersSet(ctx, s.Space, writes, nil); err != nil {
		return fmt.Errorf("restore registers: %w", err)
	}
	return nil
}

// DiffSnapshots returns a unified diff of the hex dumps and registers of two snapshots, empty when they match.
func DiffSnapshots(a, b Snapshot) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(snapshotDump(a)),
		B:        difflib.SplitLines(snapshotDump(b)),
		FromFile: a.Label,
		ToFile:   b.Label,
		Context:  1,
	}
	return difflib.GetUnifiedDiffString(diff)
}

func snapshotDump(s Snapshot) string {
	var sb strings.Builder
	for _, rv := range s.Registers {
		fmt.Fprintf(&sb, "reg %02x = %0*x\n", rv.ID, max(rv.Width*2, 2), rv.Value)
	}
	for off := 0; off < len(s.Memory); off += 16 {
		fmt.Fprintf(&sb, "%04x:", off)
		for _, v := range s.Memory[off:min(off+16, len(s.Memory))] {
			fmt.Fprintf(&sb, " %02x", v)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// SnapshotStore saves snapshots in a Storage under content addressed keys.
type SnapshotStore struct {
	storage Storage
}

// NewSnapshotStore wraps storage.
func NewSnapshotStore(storage Storage) *SnapshotStore {
	return &SnapshotStore{storage: storage}
}

// Save stores s and returns its key.
func (st *SnapshotStore) Save(s Snapshot) (string, error) {
	blob, err := MarshalSnapshot(s)
	if err != nil {
		return "", err
	}
	key := SnapshotKey(s.Label, blob)
	if err := st.storage.Put(key, blob); err != nil {
		return "", fmt.Errorf("store snapshot: %w", err)
	}
	return key, nil
}

// Load returns the snapshot stored under key.
func (st *SnapshotStore) Load(key string) (Snapshot, bool, error) {
	blob, ok, err := st.storage.Get(key)
	if err != nil || !ok {
		return Snapshot{}, ok, err
	}
	s, err := UnmarshalSnapshot(blob)
	return s, err == nil, err
}

// Keys lists the keys of snapshots saved with label, or all snapshots for an empty label.
func (st *SnapshotStore) Keys(label string) ([]string, error) {
	if label == "" {
		return st.storage.Keys()
	}
	return st.storage.KeysWithPrefix(label + snapshotKeyDivider)
}

// Delete removes a stored snapshot.
func (st *SnapshotStore) Delete(key string) error {
	return st.storage.Delete(key)
}
