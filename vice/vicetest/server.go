// Package vicetest provides an in-process binary monitor peer for tests and local development.
package vicetest

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"net"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/c64bridge/vicebridge/vice"
)

const (
	memorySize   = 0x10000
	screenStart  = 0x0400
	screenLength = vice.ScreenColumns * vice.ScreenRows
	resetPC      = 0xE5CD
)

// Version is reported by the info command.
var Version = []byte{3, 7, 1, 0}

// Display geometry of the canned display-get response.
const (
	DisplayWidth       = 384
	DisplayHeight      = 272
	DisplayOffsetX     = 32
	DisplayOffsetY     = 35
	DisplayInnerWidth  = 320
	DisplayInnerHeight = 200
)

type register struct {
	id   uint8
	name string
	bits uint8
}

var registers = []register{
	{id: 0, name: "A", bits: 8},
	{id: 1, name: "X", bits: 8},
	{id: 2, name: "Y", bits: 8},
	{id: 3, name: "PC", bits: 16},
	{id: 4, name: "SP", bits: 8},
	{id: 5, name: "FL", bits: 8},
}

const regPC = 3

// RunOutput is written to the screen once the guest resumes after a RUN command was typed.
var RunOutput = "HELLO"

// Server emulates the binary monitor of a halted machine. It serves one connection at a time, and all connections
// share one machine state. Like the real emulator, the guest only makes progress after an exit command: keyboard
// input that starts a program shows its output on screen only after the monitor is left.
type Server struct {
	ln     net.Listener
	cancel context.CancelFunc
	group  *errgroup.Group

	writeMu sync.Mutex

	mu             sync.Mutex
	conn           net.Conn
	mem            [5][]byte // per address space
	regs           map[uint8]uint16
	checkpoints    map[uint32]*vice.Checkpoint
	nextCheckpoint uint32
	resources      map[string]vice.ResourceValue
	keyboard       []byte
	pendingRun     bool
	pendingLines   int
	cursorRow      int
	running        bool
	commandCounts  map[vice.CommandID]int
	autostarted    []string
	version        []byte
	holdCount      int
	held           [][]byte
}

// NewServer starts a server on a random loopback port.
func NewServer() (*Server, error) {
	return Start(context.Background(), "127.0.0.1:0")
}

// Start listens on addr and serves until ctx is done or Close is called.
func Start(ctx context.Context, addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	s := &Server{
		ln:            ln,
		cancel:        cancel,
		group:         g,
		commandCounts: make(map[vice.CommandID]int),
		version:       Version,
	}
	s.Reset()

	g.Go(func() error {
		return s.acceptLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.mu.Unlock()
		return ln.Close()
	})
	log.Printf("Mock monitor listening on %s", ln.Addr())
	return s, nil
}

// Addr returns the listen address as host:port.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops the server and drops the active connection.
func (s *Server) Close() error {
	s.cancel()
	if err := s.group.Wait(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Wait blocks until the server stops.
func (s *Server) Wait() error {
	if err := s.group.Wait(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Reset restores the power-on state: a blank screen showing READY., initialized BASIC pointers, zeroed
// registers and no checkpoints. Resources are reseeded.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.mem {
		s.mem[i] = make([]byte, memorySize)
	}
	s.resetScreenLocked()
	s.regs = make(map[uint8]uint16, len(registers))
	for _, r := range registers {
		s.regs[r.id] = 0
	}
	s.regs[regPC] = resetPC
	s.regs[4] = 0xF6
	s.checkpoints = make(map[uint32]*vice.Checkpoint)
	s.nextCheckpoint = 1
	s.resources = map[string]vice.ResourceValue{
		"C64Model":   vice.IntResource(0),
		"KernalName": vice.StringResource("kernal-901227-03.bin"),
		"WarpMode":   vice.IntResource(1),
	}
	s.keyboard = nil
	s.pendingRun = false
	s.running = false
}

func (s *Server) resetScreenLocked() {
	mem := s.mem[vice.MainMemory]
	for i := 0; i < screenLength; i++ {
		mem[screenStart+i] = 0x20
	}
	copy(mem[screenStart:], vice.ScreenCodes("READY."))
	s.cursorRow = 1
	binary.LittleEndian.PutUint16(mem[0x2B:], vice.BasicStart)
	binary.LittleEndian.PutUint16(mem[0x2D:], vice.BasicStart+2)
	binary.LittleEndian.PutUint16(mem[0x2F:], vice.BasicStart+2)
	binary.LittleEndian.PutUint16(mem[0x31:], vice.BasicStart+2)
	binary.LittleEndian.PutUint16(mem[0x37:], 0xA000)
	s.keyboard = nil
	s.pendingRun = false
	s.pendingLines = 0
}

// SetVersion changes the version reported by the info command.
func (s *Server) SetVersion(v []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version = append([]byte(nil), v...)
}

// Memory returns a copy of the range [start, end] of main memory.
func (s *Server) Memory(start, end uint16) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]byte(nil), s.mem[vice.MainMemory][start:int(end)+1]...)
}

// SetMemory writes main memory directly.
func (s *Server) SetMemory(start uint16, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.mem[vice.MainMemory][start:], data)
}

// CommandCount returns how many times cmd was received.
func (s *Server) CommandCount(cmd vice.CommandID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commandCounts[cmd]
}

// Autostarted returns the paths passed to autostart commands.
func (s *Server) Autostarted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.autostarted)
}

// Running reports if the guest was resumed and no command halted it since.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// HoldResponses buffers the next n responses and then sends them in reverse order.
func (s *Server) HoldResponses(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.holdCount = n
}

// Emit sends an unsolicited frame to the connected client.
func (s *Server) Emit(typ vice.ResponseType, body []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("no client connected")
	}
	return s.write(conn, vice.EncodeResponse(vice.Response{Type: typ, RequestID: vice.EventRequestID, Body: body}))
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		s.serve(conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Server) serve(conn net.Conn) {
	var buf []byte
	chunk := make([]byte, 32*1024)
	for {
		n, err := conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		for {
			req, consumed, ok := vice.TryDecodeRequest(buf)
			buf = buf[consumed:]
			if !ok {
				break
			}
			if quit := s.handle(conn, req); quit {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Printf("WARN: mock monitor read failed: %v", err)
			}
			return
		}
	}
}

func (s *Server) write(conn net.Conn, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := conn.Write(frame)
	return err
}

// reply tracks the frames produced for one request. Events are written before the response frames.
type reply struct {
	version byte
	id      uint32
	events  [][]byte
	frames  [][]byte
}

func (r *reply) event(typ vice.ResponseType, body []byte) {
	r.events = append(r.events, vice.EncodeResponse(vice.Response{
		APIVersion: r.version, Type: typ, RequestID: vice.EventRequestID, Body: body}))
}

func (r *reply) send(typ vice.ResponseType, body []byte) {
	r.frames = append(r.frames, vice.EncodeResponse(vice.Response{
		APIVersion: r.version, Type: typ, RequestID: r.id, Body: body}))
}

func (r *reply) fail(typ vice.ResponseType, code vice.ErrorCode) {
	r.frames = append(r.frames, vice.EncodeResponse(vice.Response{
		APIVersion: r.version, Type: typ, Code: code, RequestID: r.id}))
}

func (s *Server) handle(conn net.Conn, req vice.Request) (quit bool) {
	r := &reply{version: req.APIVersion, id: req.RequestID}

	s.mu.Lock()
	s.commandCounts[req.Command]++
	if s.running {
		s.running = false // any command enters the monitor
		r.event(vice.ResponseStopped, vice.EncodePCEvent(s.regs[regPC]))
	}
	quit = s.dispatchLocked(req, r)
	var out [][]byte
	out = append(out, r.events...)
	if s.holdCount > 0 {
		s.held = append(s.held, r.frames...)
		s.holdCount--
		if s.holdCount == 0 {
			slices.Reverse(s.held)
			out = append(out, s.held...)
			s.held = nil
		}
	} else {
		out = append(out, r.frames...)
	}
	s.mu.Unlock()

	for _, frame := range out {
		if err := s.write(conn, frame); err != nil {
			log.Printf("WARN: mock monitor write failed: %v", err)
			return true
		}
	}
	return quit
}

func (s *Server) dispatchLocked(req vice.Request, r *reply) bool {
	body := req.Body
	switch req.Command {
	case vice.CmdMemGet:
		s.memGetLocked(body, r)
	case vice.CmdMemSet:
		s.memSetLocked(body, r)
	case vice.CmdCheckpointSet:
		s.checkpointSetLocked(body, r)
	case vice.CmdCheckpointGet, vice.CmdCheckpointDelete, vice.CmdCheckpointToggle, vice.CmdConditionSet:
		s.checkpointByIDLocked(req.Command, body, r)
	case vice.CmdCheckpointList:
		ids := make([]uint32, 0, len(s.checkpoints))
		for id := range s.checkpoints {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			r.send(vice.ResponseCheckpointInfo, vice.CheckpointRecord(*s.checkpoints[id]))
		}
		r.send(vice.ResponseCheckpointList, binary.LittleEndian.AppendUint32(nil, uint32(len(ids))))
	case vice.CmdRegistersAvailable:
		s.registersAvailableLocked(body, r)
	case vice.CmdRegistersGet:
		if len(body) < 1 {
			r.fail(vice.ResponseRegisterInfo, vice.CodeLengthMismatch)
		} else if !vice.AddressSpace(body[0]).Valid() {
			r.fail(vice.ResponseRegisterInfo, vice.CodeInvalidAddressSpace)
		} else {
			r.send(vice.ResponseRegisterInfo, s.registerValuesLocked())
		}
	case vice.CmdRegistersSet:
		s.registersSetLocked(body, r)
	case vice.CmdResourceGet:
		s.resourceGetLocked(body, r)
	case vice.CmdResourceSet:
		s.resourceSetLocked(body, r)
	case vice.CmdAdvanceInstructions:
		s.advanceLocked(body, r)
	case vice.CmdExecuteUntilReturn:
		s.regs[regPC] += 3
		r.send(vice.ResponseExecuteUntilReturn, nil)
	case vice.CmdKeyboardFeed:
		s.keyboardFeedLocked(req.APIVersion, body, r)
	case vice.CmdPing:
		r.send(vice.ResponsePing, nil)
	case vice.CmdBanksAvailable:
		r.send(vice.ResponseBanksAvailable, banksBody())
	case vice.CmdDisplayGet:
		r.send(vice.ResponseDisplayGet, vice.EncodeDisplay(cannedDisplay()))
	case vice.CmdInfo:
		r.send(vice.ResponseInfo, vice.EncodeInfo(vice.EmulatorInfo{Version: s.version}))
	case vice.CmdExit:
		r.send(vice.ResponseExit, nil)
		s.resumeLocked(r)
	case vice.CmdQuit:
		r.send(vice.ResponseQuit, nil)
		return true
	case vice.CmdReset:
		if len(body) < 1 {
			r.fail(vice.ResponseReset, vice.CodeLengthMismatch)
			break
		}
		switch vice.ResetType(body[0]) {
		case vice.ResetSoft, vice.ResetHard:
			s.resetScreenLocked()
			s.regs[regPC] = resetPC
		case vice.ResetDrive8, vice.ResetDrive9, vice.ResetDrive10, vice.ResetDrive11:
		default:
			r.fail(vice.ResponseReset, vice.CodeInvalidParameter)
			return false
		}
		r.send(vice.ResponseReset, nil)
	case vice.CmdAutostart:
		if len(body) < 4 || len(body) < 4+int(body[3]) {
			r.fail(vice.ResponseAutostart, vice.CodeLengthMismatch)
			break
		}
		s.autostarted = append(s.autostarted, string(body[4:4+int(body[3])]))
		if body[0] != 0 {
			s.resetScreenLocked()
			s.pendingRun = true
		}
		r.send(vice.ResponseAutostart, nil)
		s.resumeLocked(r)
	default:
		r.fail(vice.ResponseType(req.Command), vice.CodeUnknownCommand)
	}
	return false
}

// resumeLocked lets the guest run, which makes typed programs produce their output.
func (s *Server) resumeLocked(r *reply) {
	s.running = true
	mem := s.mem[vice.MainMemory]
	if s.pendingRun {
		s.pendingRun = false
		row := screenStart + 2*vice.ScreenColumns
		copy(mem[row:], vice.ScreenCodes(RunOutput))
		copy(mem[row+vice.ScreenColumns:], vice.ScreenCodes("READY."))
		s.cursorRow = 4
	} else {
		// every other entered line is answered with a fresh prompt on the cursor row
		for ; s.pendingLines > 0; s.pendingLines-- {
			copy(mem[screenStart+s.cursorRow*vice.ScreenColumns:], vice.ScreenCodes("READY."))
			s.cursorRow = min(s.cursorRow+1, vice.ScreenRows-1)
		}
	}
	s.pendingLines = 0
	s.keyboard = nil
	r.event(vice.ResponseResumed, vice.EncodePCEvent(s.regs[regPC]))
}

type memHeader struct {
	sideEffects uint8
	start, end  uint16
	space       vice.AddressSpace
}

func parseMemHeader(body []byte) (memHeader, bool) {
	if len(body) < 8 {
		return memHeader{}, false
	}
	return memHeader{
		sideEffects: body[0],
		start:       binary.LittleEndian.Uint16(body[1:]),
		end:         binary.LittleEndian.Uint16(body[3:]),
		space:       vice.AddressSpace(body[5]),
	}, true
}

func (s *Server) memGetLocked(body []byte, r *reply) {
	h, ok := parseMemHeader(body)
	if !ok {
		r.fail(vice.ResponseMemGet, vice.CodeLengthMismatch)
		return
	} else if !h.space.Valid() {
		r.fail(vice.ResponseMemGet, vice.CodeInvalidAddressSpace)
		return
	} else if h.end < h.start {
		r.fail(vice.ResponseMemGet, vice.CodeInvalidParameter)
		return
	}
	data := s.mem[h.space][h.start : int(h.end)+1]
	out := binary.LittleEndian.AppendUint16(make([]byte, 0, len(data)+2), uint16(len(data)))
	r.send(vice.ResponseMemGet, append(out, data...))
}

func (s *Server) memSetLocked(body []byte, r *reply) {
	h, ok := parseMemHeader(body)
	if !ok {
		r.fail(vice.ResponseMemSet, vice.CodeLengthMismatch)
		return
	} else if !h.space.Valid() {
		r.fail(vice.ResponseMemSet, vice.CodeInvalidAddressSpace)
		return
	} else if h.end < h.start {
		r.fail(vice.ResponseMemSet, vice.CodeInvalidParameter)
		return
	}
	data := body[8:]
	if len(data) != int(h.end)-int(h.start)+1 {
		r.fail(vice.ResponseMemSet, vice.CodeLengthMismatch)
		return
	}
	copy(s.mem[h.space][h.start:], data)
	r.send(vice.ResponseMemSet, nil)
}

func (s *Server) checkpointSetLocked(body []byte, r *reply) {
	if len(body) < 8 {
		r.fail(vice.ResponseCheckpointInfo, vice.CodeLengthMismatch)
		return
	}
	space := vice.MainMemory
	if len(body) >= 9 {
		space = vice.AddressSpace(body[8])
	}
	op := body[6]
	if !space.Valid() {
		r.fail(vice.ResponseCheckpointInfo, vice.CodeInvalidAddressSpace)
		return
	} else if op == 0 || op&^0x07 != 0 {
		r.fail(vice.ResponseCheckpointInfo, vice.CodeInvalidParameter)
		return
	}
	cp := &vice.Checkpoint{
		ID:        s.nextCheckpoint,
		Start:     binary.LittleEndian.Uint16(body[0:]),
		End:       binary.LittleEndian.Uint16(body[2:]),
		StopOnHit: body[4] != 0,
		Enabled:   body[5] != 0,
		Operations: vice.Operations{
			Load:    op&0x01 != 0,
			Store:   op&0x02 != 0,
			Execute: op&0x04 != 0,
		},
		Temporary:    body[7] != 0,
		AddressSpace: space,
	}
	if cp.End < cp.Start {
		r.fail(vice.ResponseCheckpointInfo, vice.CodeInvalidParameter)
		return
	}
	s.nextCheckpoint++
	s.checkpoints[cp.ID] = cp
	r.send(vice.ResponseCheckpointInfo, vice.CheckpointRecord(*cp))
}

func (s *Server) checkpointByIDLocked(cmd vice.CommandID, body []byte, r *reply) {
	typ := vice.ResponseType(cmd)
	if cmd == vice.CmdCheckpointGet {
		typ = vice.ResponseCheckpointInfo
	}
	if len(body) < 4 {
		r.fail(typ, vice.CodeLengthMismatch)
		return
	}
	id := binary.LittleEndian.Uint32(body)
	cp, ok := s.checkpoints[id]
	if !ok {
		r.fail(typ, vice.CodeObjectNotFound)
		return
	}
	switch cmd {
	case vice.CmdCheckpointGet:
		r.send(typ, vice.CheckpointRecord(*cp))
	case vice.CmdCheckpointDelete:
		delete(s.checkpoints, id)
		r.send(typ, nil)
	case vice.CmdCheckpointToggle:
		if len(body) < 5 {
			r.fail(typ, vice.CodeLengthMismatch)
			return
		}
		cp.Enabled = body[4] != 0
		r.send(typ, nil)
	case vice.CmdConditionSet:
		if len(body) < 5 || len(body) < 5+int(body[4]) || body[4] == 0 {
			r.fail(typ, vice.CodeLengthMismatch)
			return
		}
		cp.HasCondition = true
		r.send(typ, nil)
	}
}

// advanceLocked steps one byte per instruction and stops at enabled execute checkpoints.
func (s *Server) advanceLocked(body []byte, r *reply) {
	if len(body) < 3 {
		r.fail(vice.ResponseAdvance, vice.CodeLengthMismatch)
		return
	}
	count := int(binary.LittleEndian.Uint16(body[1:]))
	for i := 0; i < count; i++ {
		s.regs[regPC]++
		if s.hitExecCheckpointsLocked(s.regs[regPC], r) {
			break
		}
	}
	r.send(vice.ResponseAdvance, nil)
}

func (s *Server) hitExecCheckpointsLocked(pc uint16, r *reply) (stopped bool) {
	ids := make([]uint32, 0, len(s.checkpoints))
	for id, cp := range s.checkpoints {
		if cp.Enabled && cp.Operations.Execute && cp.AddressSpace == vice.MainMemory && cp.Start <= pc && pc <= cp.End {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		cp := s.checkpoints[id]
		cp.HitCount++
		hit := *cp
		hit.CurrentlyHit = true
		r.event(vice.ResponseCheckpointInfo, vice.CheckpointRecord(hit))
		if cp.Temporary {
			delete(s.checkpoints, id)
		}
		stopped = stopped || cp.StopOnHit
	}
	if stopped {
		r.event(vice.ResponseStopped, vice.EncodePCEvent(pc))
	}
	return stopped
}

func (s *Server) keyboardFeedLocked(version byte, body []byte, r *reply) {
	if version < 2 {
		r.fail(vice.ResponseKeyboardFeed, vice.CodeUnsupportedAPIVersion)
		return
	} else if len(body) < 1 || len(body) < 1+int(body[0]) {
		r.fail(vice.ResponseKeyboardFeed, vice.CodeLengthMismatch)
		return
	}
	text := body[1 : 1+int(body[0])]
	s.keyboard = append(s.keyboard, text...)
	s.pendingLines += strings.Count(string(text), "\r") + strings.Count(string(text), "\n")
	if typed := strings.ToUpper(string(s.keyboard)); strings.Contains(typed, "RUN") && strings.ContainsAny(typed, "\r\n") {
		s.pendingRun = true
	}
	r.send(vice.ResponseKeyboardFeed, nil)
}

func (s *Server) registersAvailableLocked(body []byte, r *reply) {
	if len(body) < 1 {
		r.fail(vice.ResponseRegistersAvailable, vice.CodeLengthMismatch)
		return
	} else if !vice.AddressSpace(body[0]).Valid() {
		r.fail(vice.ResponseRegistersAvailable, vice.CodeInvalidAddressSpace)
		return
	}
	out := binary.LittleEndian.AppendUint16(nil, uint16(len(registers)))
	for _, reg := range registers {
		out = append(out, byte(3+len(reg.name)), reg.id, reg.bits, byte(len(reg.name)))
		out = append(out, reg.name...)
	}
	r.send(vice.ResponseRegistersAvailable, out)
}

// registerValuesLocked encodes each register with as many bytes as its width needs.
func (s *Server) registerValuesLocked() []byte {
	out := binary.LittleEndian.AppendUint16(nil, uint16(len(registers)))
	for _, reg := range registers {
		v := s.regs[reg.id]
		if reg.bits > 8 {
			out = append(out, 3, reg.id)
			out = binary.LittleEndian.AppendUint16(out, v)
		} else {
			out = append(out, 2, reg.id, byte(v))
		}
	}
	return out
}

func (s *Server) registersSetLocked(body []byte, r *reply) {
	if len(body) < 3 {
		r.fail(vice.ResponseRegisterInfo, vice.CodeLengthMismatch)
		return
	} else if !vice.AddressSpace(body[0]).Valid() {
		r.fail(vice.ResponseRegisterInfo, vice.CodeInvalidAddressSpace)
		return
	}
	count := int(binary.LittleEndian.Uint16(body[1:]))
	updates := make(map[uint8]uint16, count)
	off := 3
	for i := 0; i < count; i++ {
		if off >= len(body) || off+1+int(body[off]) > len(body) || body[off] < 2 {
			r.fail(vice.ResponseRegisterInfo, vice.CodeLengthMismatch)
			return
		}
		size := int(body[off])
		id := body[off+1]
		var v uint16
		if size >= 3 {
			v = binary.LittleEndian.Uint16(body[off+2:])
		} else {
			v = uint16(body[off+2])
		}
		idx := slices.IndexFunc(registers, func(reg register) bool { return reg.id == id })
		if idx < 0 {
			r.fail(vice.ResponseRegisterInfo, vice.CodeObjectNotFound)
			return
		} else if registers[idx].bits < 16 && v >= 1<<registers[idx].bits {
			r.fail(vice.ResponseRegisterInfo, vice.CodeInvalidParameter)
			return
		}
		updates[id] = v
		off += 1 + size
	}
	for id, v := range updates {
		s.regs[id] = v
	}
	r.send(vice.ResponseRegisterInfo, s.registerValuesLocked())
}

func (s *Server) resourceGetLocked(body []byte, r *reply) {
	if len(body) < 1 || len(body) < 1+int(body[0]) || body[0] == 0 {
		r.fail(vice.ResponseResourceGet, vice.CodeLengthMismatch)
		return
	}
	v, ok := s.resources[string(body[1:1+int(body[0])])]
	if !ok {
		r.fail(vice.ResponseResourceGet, vice.CodeObjectNotFound)
		return
	}
	out, err := vice.EncodeResourceValue(v)
	if err != nil {
		r.fail(vice.ResponseResourceGet, vice.CodeCommandFailed)
		return
	}
	r.send(vice.ResponseResourceGet, out)
}

func (s *Server) resourceSetLocked(body []byte, r *reply) {
	if len(body) < 2 || len(body) < 2+int(body[1]) {
		r.fail(vice.ResponseResourceSet, vice.CodeLengthMismatch)
		return
	}
	typ := vice.ResourceType(body[0])
	name := string(body[2 : 2+int(body[1])])
	rest := body[2+int(body[1]):]
	if len(rest) < 1 || len(rest) < 1+int(rest[0]) {
		r.fail(vice.ResponseResourceSet, vice.CodeLengthMismatch)
		return
	}
	raw := rest[1 : 1+int(rest[0])]
	existing, ok := s.resources[name]
	if !ok {
		r.fail(vice.ResponseResourceSet, vice.CodeObjectNotFound)
		return
	} else if existing.Type != typ {
		r.fail(vice.ResponseResourceSet, vice.CodeInvalidParameter)
		return
	}
	switch typ {
	case vice.ResourceString:
		s.resources[name] = vice.StringResource(string(raw))
	case vice.ResourceInt:
		if len(raw) != 4 {
			r.fail(vice.ResponseResourceSet, vice.CodeInvalidParameter)
			return
		}
		s.resources[name] = vice.IntResource(int32(binary.LittleEndian.Uint32(raw)))
	default:
		r.fail(vice.ResponseResourceSet, vice.CodeInvalidParameter)
		return
	}
	r.send(vice.ResponseResourceSet, nil)
}

var banks = []struct {
	id   uint16
	name string
}{
	{0, "default"}, {1, "cpu"}, {2, "ram"}, {3, "rom"}, {4, "io"}, {5, "cart"},
}

func banksBody() []byte {
	out := binary.LittleEndian.AppendUint16(nil, uint16(len(banks)))
	for _, b := range banks {
		out = append(out, byte(3+len(b.name)))
		out = binary.LittleEndian.AppendUint16(out, b.id)
		out = append(out, byte(len(b.name)))
		out = append(out, b.name...)
	}
	return out
}

// cannedDisplay is a border colored frame with a blue inner screen.
func cannedDisplay() vice.DisplaySnapshot {
	pixels := make([]byte, DisplayWidth*DisplayHeight)
	for y := 0; y < DisplayHeight; y++ {
		for x := 0; x < DisplayWidth; x++ {
			c := byte(14) // light blue border
			if x >= DisplayOffsetX && x < DisplayOffsetX+DisplayInnerWidth &&
				y >= DisplayOffsetY && y < DisplayOffsetY+DisplayInnerHeight {
				c = 6
			}
			pixels[y*DisplayWidth+x] = c
		}
	}
	return vice.DisplaySnapshot{
		DebugWidth:   DisplayWidth,
		DebugHeight:  DisplayHeight,
		OffsetX:      DisplayOffsetX,
		OffsetY:      DisplayOffsetY,
		InnerWidth:   DisplayInnerWidth,
		InnerHeight:  DisplayInnerHeight,
		BitsPerPixel: 8,
		Pixels:       pixels,
	}
}
