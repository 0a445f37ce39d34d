package vice

import (
	"encoding/binary"
	"fmt"
)

const (
	frameStart byte = 0x02

	// APIVersion is the protocol version requests are sent with unless a session overrides it.
	APIVersion byte = 0x02
	// minAPIVersion is the lowest version byte accepted while scanning for a frame start.
	minAPIVersion byte = 0x01

	requestHeaderLen  = 11
	responseHeaderLen = 12

	// EventRequestID is the request id the emulator uses for unsolicited frames.
	EventRequestID uint32 = 0xFFFFFFFF

	// MaxBodyLength bounds the declared body length accepted while decoding. A header declaring more is treated as
	// corrupt data and skipped so the stream can resynchronize.
	MaxBodyLength = 16 << 20
)

// CommandID identifies a request command.
type CommandID byte

const (
	CmdMemGet              CommandID = 0x01
	CmdMemSet              CommandID = 0x02
	CmdCheckpointGet       CommandID = 0x11
	CmdCheckpointSet       CommandID = 0x12
	CmdCheckpointDelete    CommandID = 0x13
	CmdCheckpointList      CommandID = 0x14
	CmdCheckpointToggle    CommandID = 0x15
	CmdConditionSet        CommandID = 0x22
	CmdRegistersGet        CommandID = 0x31
	CmdRegistersSet        CommandID = 0x32
	CmdResourceGet         CommandID = 0x51
	CmdResourceSet         CommandID = 0x52
	CmdAdvanceInstructions CommandID = 0x71
	CmdKeyboardFeed        CommandID = 0x72
	CmdExecuteUntilReturn  CommandID = 0x73
	CmdPing                CommandID = 0x81
	CmdBanksAvailable      CommandID = 0x82
	CmdRegistersAvailable  CommandID = 0x83
	CmdDisplayGet          CommandID = 0x84
	CmdInfo                CommandID = 0x85
	CmdExit                CommandID = 0xAA
	CmdQuit                CommandID = 0xBB
	CmdReset               CommandID = 0xCC
	CmdAutostart           CommandID = 0xDD
)

var commandNames = map[CommandID]string{
	CmdMemGet:              "memory-get",
	CmdMemSet:              "memory-set",
	CmdCheckpointGet:       "checkpoint-get",
	CmdCheckpointSet:       "checkpoint-set",
	CmdCheckpointDelete:    "checkpoint-delete",
	CmdCheckpointList:      "checkpoint-list",
	CmdCheckpointToggle:    "checkpoint-toggle",
	CmdConditionSet:        "condition-set",
	CmdRegistersGet:        "registers-get",
	CmdRegistersSet:        "registers-set",
	CmdResourceGet:         "resource-get",
	CmdResourceSet:         "resource-set",
	CmdAdvanceInstructions: "advance-instructions",
	CmdKeyboardFeed:        "keyboard-feed",
	CmdExecuteUntilReturn:  "execute-until-return",
	CmdPing:                "ping",
	CmdBanksAvailable:      "banks-available",
	CmdRegistersAvailable:  "registers-available",
	CmdDisplayGet:          "display-get",
	CmdInfo:                "info",
	CmdExit:                "exit",
	CmdQuit:                "quit",
	CmdReset:               "reset",
	CmdAutostart:           "autostart",
}

// Known reports if the command is one this package can send.
func (c CommandID) Known() bool {
	_, ok := commandNames[c]
	return ok
}

func (c CommandID) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command-0x%02x", byte(c))
}

// ResponseType identifies the kind of a response or event frame. Replies to a command carry the command's own id,
// except for the checkpoint and register commands which share a record type.
type ResponseType byte

const (
	ResponseMemGet             = ResponseType(CmdMemGet)
	ResponseMemSet             = ResponseType(CmdMemSet)
	ResponseCheckpointInfo     = ResponseType(CmdCheckpointGet)
	ResponseCheckpointDelete   = ResponseType(CmdCheckpointDelete)
	ResponseCheckpointList     = ResponseType(CmdCheckpointList)
	ResponseCheckpointToggle   = ResponseType(CmdCheckpointToggle)
	ResponseConditionSet       = ResponseType(CmdConditionSet)
	ResponseRegisterInfo       = ResponseType(CmdRegistersGet)
	ResponseResourceGet        = ResponseType(CmdResourceGet)
	ResponseResourceSet        = ResponseType(CmdResourceSet)
	ResponseAdvance            = ResponseType(CmdAdvanceInstructions)
	ResponseKeyboardFeed       = ResponseType(CmdKeyboardFeed)
	ResponseExecuteUntilReturn = ResponseType(CmdExecuteUntilReturn)
	ResponsePing               = ResponseType(CmdPing)
	ResponseBanksAvailable     = ResponseType(CmdBanksAvailable)
	ResponseRegistersAvailable = ResponseType(CmdRegistersAvailable)
	ResponseDisplayGet         = ResponseType(CmdDisplayGet)
	ResponseInfo               = ResponseType(CmdInfo)
	ResponseExit               = ResponseType(CmdExit)
	ResponseQuit               = ResponseType(CmdQuit)
	ResponseReset              = ResponseType(CmdReset)
	ResponseAutostart          = ResponseType(CmdAutostart)

	ResponseJam     ResponseType = 0x61
	ResponseStopped ResponseType = 0x62
	ResponseResumed ResponseType = 0x63
)

// Known reports if t can appear in a response header, either as a command reply or as an event.
func (t ResponseType) Known() bool {
	switch t {
	case ResponseJam, ResponseStopped, ResponseResumed:
		return true
	}
	return CommandID(t).Known()
}

func (t ResponseType) String() string {
	switch t {
	case ResponseJam:
		return "jam"
	case ResponseStopped:
		return "stopped"
	case ResponseResumed:
		return "resumed"
	case ResponseCheckpointInfo:
		return "checkpoint-info"
	case ResponseRegisterInfo:
		return "register-info"
	}
	return CommandID(t).String()
}

// ErrorCode is the symbolic form of the error byte carried in every response header. Non-success codes satisfy the
// error interface so that errors.Is can match them through a RemoteCommandError.
type ErrorCode byte

const (
	CodeOK                    ErrorCode = 0x00
	CodeObjectNotFound        ErrorCode = 0x01
	CodeInvalidAddressSpace   ErrorCode = 0x02
	CodeLengthMismatch        ErrorCode = 0x80
	CodeInvalidParameter      ErrorCode = 0x81
	CodeUnsupportedAPIVersion ErrorCode = 0x82
	CodeUnknownCommand        ErrorCode = 0x83
	CodeCommandFailed         ErrorCode = 0x8F
)

// Known reports if the code is part of the documented taxonomy.
func (c ErrorCode) Known() bool {
	switch c {
	case CodeOK, CodeObjectNotFound, CodeInvalidAddressSpace, CodeLengthMismatch, CodeInvalidParameter,
		CodeUnsupportedAPIVersion, CodeUnknownCommand, CodeCommandFailed:
		return true
	}
	return false
}

func (c ErrorCode) String() string {
	switch c {
	case CodeOK:
		return "Success"
	case CodeObjectNotFound:
		return "ObjectNotFound"
	case CodeInvalidAddressSpace:
		return "InvalidAddressSpace"
	case CodeLengthMismatch:
		return "LengthMismatch"
	case CodeInvalidParameter:
		return "InvalidParameter"
	case CodeUnsupportedAPIVersion:
		return "UnsupportedApiVersion"
	case CodeUnknownCommand:
		return "UnknownCommand"
	case CodeCommandFailed:
		return "CommandFailed"
	}
	return fmt.Sprintf("ErrorCode(0x%02x)", byte(c))
}

func (c ErrorCode) Error() string {
	return "remote error " + c.String()
}

// Request is a decoded request frame.
type Request struct {
	APIVersion byte
	RequestID  uint32
	Command    CommandID
	Body       []byte
}

// Response is a decoded response or event frame.
type Response struct {
	APIVersion byte
	Type       ResponseType
	Code       ErrorCode
	RequestID  uint32
	Body       []byte
}

// IsEvent reports if the frame is unsolicited and must not be correlated with a pending call.
func (r Response) IsEvent() bool {
	return r.RequestID == EventRequestID
}

// EncodeRequest produces the wire form of a request. A zero APIVersion is sent as APIVersion.
func EncodeRequest(req Request) []byte {
	version := req.APIVersion
	if version == 0 {
		version = APIVersion
	}
	out := make([]byte, requestHeaderLen+len(req.Body))
	out[0] = frameStart
	out[1] = version
	binary.LittleEndian.PutUint32(out[2:], uint32(len(req.Body)))
	binary.LittleEndian.PutUint32(out[6:], req.RequestID)
	out[10] = byte(req.Command)
	copy(out[requestHeaderLen:], req.Body)
	return out
}

// EncodeResponse produces the wire form of a response. A zero APIVersion is sent as APIVersion.
func EncodeResponse(resp Response) []byte {
	version := resp.APIVersion
	if version == 0 {
		version = APIVersion
	}
	out := make([]byte, responseHeaderLen+len(resp.Body))
	out[0] = frameStart
	out[1] = version
	binary.LittleEndian.PutUint32(out[2:], uint32(len(resp.Body)))
	out[6] = byte(resp.Type)
	out[7] = byte(resp.Code)
	binary.LittleEndian.PutUint32(out[8:], resp.RequestID)
	copy(out[responseHeaderLen:], resp.Body)
	return out
}

// TryDecodeResponse decodes the first complete response frame in buf. Bytes ahead of a plausible frame start are
// discarded and counted in consumed, so consumed may be non-zero even when ok is false. It never blocks and never
// fails: an incomplete frame simply reports ok false.
func TryDecodeResponse(buf []byte) (resp Response, consumed int, ok bool) {
	return TryDecodeResponseFor(buf, nil)
}

// TryDecodeResponseFor is TryDecodeResponse with an extra filter on the request id of candidate headers. A header
// is only trusted when its type and error code are known and acceptID, if set, accepts its request id. Rejected
// candidates are skipped one byte at a time, so a stray start marker can not hide the frame behind it.
func TryDecodeResponseFor(buf []byte, acceptID func(uint32) bool) (resp Response, consumed int, ok bool) {
	frame, consumed, ok := scanFrame(buf, responseHeaderLen, func(header []byte) bool {
		return plausibleResponseHeader(header, acceptID)
	})
	if !ok {
		return Response{}, consumed, false
	}
	return responseFromFrame(frame), consumed, true
}

// plausibleResponseHeader rejects headers whose fields can not come from the emulator. Unknown commands are echoed
// back with their own id as the type, so an unknown type is accepted together with CodeUnknownCommand.
func plausibleResponseHeader(header []byte, acceptID func(uint32) bool) bool {
	code := ErrorCode(header[7])
	if !code.Known() {
		return false
	} else if !ResponseType(header[6]).Known() && code != CodeUnknownCommand {
		return false
	}
	return acceptID == nil || acceptID(binary.LittleEndian.Uint32(header[8:]))
}

func responseFromFrame(frame []byte) Response {
	return Response{
		APIVersion: frame[1],
		Type:       ResponseType(frame[6]),
		Code:       ErrorCode(frame[7]),
		RequestID:  binary.LittleEndian.Uint32(frame[8:]),
		Body:       append([]byte(nil), frame[responseHeaderLen:]...), // detach from the receive buffer
	}
}

// TryDecodeRequest is the request counterpart of TryDecodeResponse.
func TryDecodeRequest(buf []byte) (req Request, consumed int, ok bool) {
	frame, consumed, ok := scanFrame(buf, requestHeaderLen, nil)
	if !ok {
		return Request{}, consumed, false
	}
	return requestFromFrame(frame), consumed, true
}

func requestFromFrame(frame []byte) Request {
	return Request{
		APIVersion: frame[1],
		RequestID:  binary.LittleEndian.Uint32(frame[6:]),
		Command:    CommandID(frame[10]),
		Body:       append([]byte(nil), frame[requestHeaderLen:]...),
	}
}

// DecodeResponse strictly decodes b as exactly one response frame.
func DecodeResponse(b []byte) (Response, error) {
	if err := checkExactFrame(b, responseHeaderLen); err != nil {
		return Response{}, err
	}
	return responseFromFrame(b), nil
}

// DecodeRequest strictly decodes b as exactly one request frame.
func DecodeRequest(b []byte) (Request, error) {
	if err := checkExactFrame(b, requestHeaderLen); err != nil {
		return Request{}, err
	}
	return requestFromFrame(b), nil
}

func checkExactFrame(b []byte, headerLen int) error {
	if len(b) < headerLen {
		return &ProtocolDecodeError{Offset: 0, Detail: fmt.Sprintf("frame of %d bytes is shorter than the %d byte header", len(b), headerLen)}
	} else if b[0] != frameStart {
		return &ProtocolDecodeError{Offset: 0, Detail: fmt.Sprintf("bad start marker 0x%02x", b[0])}
	} else if !validAPIVersion(b[1]) {
		return &ProtocolDecodeError{Offset: 1, Detail: fmt.Sprintf("unsupported api version 0x%02x", b[1])}
	}
	bodyLen := binary.LittleEndian.Uint32(b[2:])
	if uint64(bodyLen)+uint64(headerLen) != uint64(len(b)) {
		return &ProtocolDecodeError{Offset: 2,
			Detail: fmt.Sprintf("declared body length %d does not match %d available bytes", bodyLen, len(b)-headerLen)}
	}
	return nil
}

func validAPIVersion(v byte) bool {
	return v >= minAPIVersion && v <= APIVersion
}

// scanFrame locates the first complete frame in buf, skipping bytes that cannot start a frame, headers whose
// declared length is implausible and headers rejected by plausible.
func scanFrame(buf []byte, headerLen int, plausible func(header []byte) bool) ([]byte, int, bool) {
	i := 0
	for {
		for i < len(buf) {
			if buf[i] == frameStart && (i+1 == len(buf) || validAPIVersion(buf[i+1])) {
				break
			}
			i++
		}
		if len(buf)-i < headerLen {
			return nil, i, false
		}
		bodyLen := binary.LittleEndian.Uint32(buf[i+2:])
		if bodyLen > MaxBodyLength {
			i++ // not a real header, resynchronize past this marker
			continue
		} else if plausible != nil && !plausible(buf[i:i+headerLen]) {
			i++
			continue
		}
		total := headerLen + int(bodyLen)
		if len(buf)-i < total {
			return nil, i, false
		}
		return buf[i : i+total], i + total, true
	}
}
