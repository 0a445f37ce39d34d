package vice

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// StepInstructions executes count instructions on the main CPU. With stepOver, subroutine calls count as one
// instruction.
func (c *Client) StepInstructions(ctx context.Context, count uint16, stepOver bool) error {
	if count == 0 {
		return fmt.Errorf("%w: step count must be positive", ErrInvalidArgument)
	}
	var w bodyWriter
	_, err := c.call(ctx, CmdAdvanceInstructions, w.u8(boolByte(stepOver)).u16(count).bytes(), ResponseAdvance)
	return err
}

// StepReturn continues until the current subroutine returns.
func (c *Client) StepReturn(ctx context.Context) error {
	_, err := c.call(ctx, CmdExecuteUntilReturn, nil, ResponseExecuteUntilReturn)
	return err
}

// MinEmulatorVersion is the oldest release whose binary monitor accepts keyboard input and autostart.
const MinEmulatorVersion = "v3.5.0"

// EmulatorInfo describes the running emulator.
type EmulatorInfo struct {
	// Version holds the version components, major first.
	Version     []byte
	SVNRevision uint32
}

// VersionString renders the version as dotted decimal.
func (i EmulatorInfo) VersionString() string {
	parts := make([]string, len(i.Version))
	for j, v := range i.Version {
		parts[j] = fmt.Sprint(v)
	}
	return strings.Join(parts, ".")
}

// Semver renders the first three version components in semantic version form.
func (i EmulatorInfo) Semver() string {
	var p [3]byte
	copy(p[:], i.Version)
	return fmt.Sprintf("v%d.%d.%d", p[0], p[1], p[2])
}

// AtLeast reports if the emulator version is not older than want, given as "3.6" or "v3.6.1".
func (i EmulatorInfo) AtLeast(want string) bool {
	if !strings.HasPrefix(want, "v") {
		want = "v" + want
	}
	if !semver.IsValid(want) {
		return false
	}
	return semver.Compare(i.Semver(), want) >= 0
}

// Info queries the emulator version.
func (c *Client) Info(ctx context.Context) (EmulatorInfo, error) {
	resp, err := c.call(ctx, CmdInfo, nil, ResponseInfo)
	if err != nil {
		return EmulatorInfo{}, err
	}
	return ParseInfo(resp)
}

// ParseInfo decodes an info response body.
func ParseInfo(body []byte) (EmulatorInfo, error) {
	r := newBodyReader(CmdInfo, body)
	version := r.bytesN(int(r.u8("version length")), "version")
	svnLen := r.u8("revision length")
	var svn uint32
	switch svnLen {
	case 0:
	case 4:
		svn = r.u32("revision")
	default:
		r.take(int(svnLen), "revision")
	}
	if r.err != nil {
		return EmulatorInfo{}, r.err
	}
	return EmulatorInfo{Version: version, SVNRevision: svn}, nil
}

// EncodeInfo produces an info response body.
func EncodeInfo(info EmulatorInfo) []byte {
	var w bodyWriter
	return w.u8(uint8(len(info.Version))).raw(info.Version).u8(4).u32(info.SVNRevision).bytes()
}

// ResetType selects what Reset restarts.
type ResetType uint8

const (
	ResetSoft   ResetType = 0
	ResetHard   ResetType = 1
	ResetDrive8 ResetType = 8
	ResetDrive9 ResetType = 9
	// ResetDrive10 and ResetDrive11 complete the drive range.
	ResetDrive10 ResetType = 10
	ResetDrive11 ResetType = 11
)

// Reset resets the machine or one drive.
func (c *Client) Reset(ctx context.Context, kind ResetType) error {
	switch kind {
	case ResetSoft, ResetHard, ResetDrive8, ResetDrive9, ResetDrive10, ResetDrive11:
	default:
		return fmt.Errorf("%w: reset type %d", ErrInvalidArgument, uint8(kind))
	}
	var w bodyWriter
	_, err := c.call(ctx, CmdReset, w.u8(uint8(kind)).bytes(), ResponseReset)
	return err
}

// ExitMonitor resumes emulation. The emulator halts again whenever the next command arrives.
func (c *Client) ExitMonitor(ctx context.Context) error {
	_, err := c.call(ctx, CmdExit, nil, ResponseExit)
	return err
}

// Quit terminates the emulator process. The session should be closed afterwards.
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.call(ctx, CmdQuit, nil, ResponseQuit)
	return err
}

// Ping checks that the monitor is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, CmdPing, nil, ResponsePing)
	return err
}

// Autostart loads a program or disk image from the emulator's filesystem, optionally running it. For images,
// fileIndex selects the directory entry.
func (c *Client) Autostart(ctx context.Context, path string, fileIndex uint16, run bool) error {
	if len(path) == 0 || len(path) > 255 {
		return fmt.Errorf("%w: autostart path must be 1-255 bytes, got %d", ErrInvalidArgument, len(path))
	}
	var w bodyWriter
	_, err := c.call(ctx, CmdAutostart, w.u8(boolByte(run)).u16(fileIndex).str8(path).bytes(), ResponseAutostart)
	return err
}
