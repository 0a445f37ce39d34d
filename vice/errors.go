package vice

import (
	"errors"
	"fmt"
	"time"
)

const ErrorLogPrefix = "!! "

var (
	// ErrSessionClosed is returned for calls on a session closed by its owner.
	ErrSessionClosed = errors.New("monitor session closed")
	// ErrInvalidAddressSpace is returned before sending when an address space is outside the known set.
	ErrInvalidAddressSpace = errors.New("invalid address space")
	// ErrInvalidArgument is returned before sending when a value can not be represented on the wire.
	ErrInvalidArgument = errors.New("invalid argument")
)

// RemoteCommandError reports a non-success error code returned by the emulator for a command.
type RemoteCommandError struct {
	Command CommandID
	Code    ErrorCode
}

func (e *RemoteCommandError) Error() string {
	return fmt.Sprintf("%s failed: %s (0x%02x)", e.Command, e.Code, byte(e.Code))
}

func (e *RemoteCommandError) Unwrap() error {
	return e.Code
}

// ResponseShapeError reports a response whose fields are inconsistent with its length or with the request.
type ResponseShapeError struct {
	Command CommandID
	Detail  string
}

func (e *ResponseShapeError) Error() string {
	return fmt.Sprintf("malformed %s response: %s", e.Command, e.Detail)
}

// ProtocolDecodeError reports a frame that could not be decoded.
type ProtocolDecodeError struct {
	Offset int
	Detail string
}

func (e *ProtocolDecodeError) Error() string {
	return fmt.Sprintf("frame decode failed at offset %d: %s", e.Offset, e.Detail)
}

// UnknownRegisterError is returned before sending when a register name or id can not be resolved.
type UnknownRegisterError struct {
	Name string
	ID   uint8
}

func (e *UnknownRegisterError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("unknown register %q", e.Name)
	}
	return fmt.Sprintf("unknown register id %d", e.ID)
}

// UnknownCheckpointError is returned when the emulator has no checkpoint with the requested id.
type UnknownCheckpointError struct {
	ID  uint32
	Err error
}

func (e *UnknownCheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %d not found", e.ID)
}

func (e *UnknownCheckpointError) Unwrap() error {
	return e.Err
}

// TransportError reports a socket failure. The session it came from is dead and must not be reused.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("monitor transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProcessLifecycleError reports a spawn failure or an early exit of a supervised process.
type ProcessLifecycleError struct {
	Stage string
	Err   error
}

func (e *ProcessLifecycleError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ProcessLifecycleError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a bounded wait that ran out of time.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %v waiting for %s", e.After, e.Op)
}

// IsRemoteCode reports if err carries the given remote error code.
func IsRemoteCode(err error, code ErrorCode) bool {
	var rce *RemoteCommandError
	return errors.As(err, &rce) && rce.Code == code
}
