package vice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

const sessionReadChunk = 64 * 1024

// SessionOptions configures a monitor session.
type SessionOptions struct {
	// APIVersion is written into every request header, zero selects APIVersion.
	APIVersion byte
	// OnEvent receives unsolicited frames. It runs on the session read loop and must not block or issue calls on
	// the same session.
	OnEvent func(Event)
	// DialTimeout bounds Dial when the context has no deadline, zero uses 5 seconds.
	DialTimeout time.Duration
}

// CallMode selects how frames that do not match the expected terminal type are treated.
type CallMode int

const (
	// CallSingle expects exactly one terminal frame, anything else for the request id is a protocol violation.
	CallSingle CallMode = iota
	// CallStreaming routes intermediate frames to the call's item handler until the terminal frame arrives.
	CallStreaming
)

// Call describes how the response to one request is collected.
type Call struct {
	Mode   CallMode
	Expect ResponseType
	OnItem func(Response) error
}

// Single builds a call resolved by one frame of the expected type.
func Single(expect ResponseType) Call {
	return Call{Mode: CallSingle, Expect: expect}
}

// Streaming builds a call whose intermediate frames are passed to onItem before the expected terminal frame.
// An error from onItem fails the call.
func Streaming(expect ResponseType, onItem func(Response) error) Call {
	return Call{Mode: CallStreaming, Expect: expect, OnItem: onItem}
}

type callResult struct {
	resp Response
	err  error
}

type pendingCall struct {
	command CommandID
	call    Call
	result  chan callResult // buffered, written exactly once by whoever removes the entry
}

// recvBuffer accumulates inbound bytes for incremental frame decoding. It is owned by the session read loop.
type recvBuffer struct {
	data []byte
}

func (b *recvBuffer) append(p []byte) {
	b.data = append(b.data, p...)
}

func (b *recvBuffer) bytes() []byte {
	return b.data
}

func (b *recvBuffer) consume(n int) {
	if n >= len(b.data) {
		b.data = b.data[:0]
		return
	}
	b.data = append(b.data[:0], b.data[n:]...)
}

// Session owns one monitor connection. Calls from multiple goroutines may be in flight at once, each correlated by
// its request id. The emulator services one command at a time while halted, so callers that need ordering must wait
// for each call before issuing the next.
type Session struct {
	id         string
	conn       net.Conn
	apiVersion byte
	onEvent    func(Event)

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint32
	wrapped bool
	pending map[uint32]*pendingCall
	err     error // terminal error, set once
	closing bool

	done chan struct{}
}

// Dial connects to a monitor listening on addr.
func Dial(ctx context.Context, addr string, opts SessionOptions) (*Session, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "dial " + addr, Err: err}
	}
	return NewSession(conn, opts), nil
}

// NewSession takes ownership of conn and starts demultiplexing inbound frames.
func NewSession(conn net.Conn, opts SessionOptions) *Session {
	version := opts.APIVersion
	if version == 0 {
		version = APIVersion
	}
	s := &Session{
		id:         uuid.NewString()[:8],
		conn:       conn,
		apiVersion: version,
		onEvent:    opts.OnEvent,
		pending:    make(map[uint32]*pendingCall),
		done:       make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// ID returns the short identifier used in this session's log lines.
func (s *Session) ID() string {
	return s.id
}

// APIVersion returns the version byte sent with each request.
func (s *Session) APIVersion() byte {
	return s.apiVersion
}

// Done is closed once the session can no longer be used.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the session, or nil while it is alive.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Send writes one request and waits for its terminal frame. A non-success error code is returned as a
// *RemoteCommandError alongside the frame. Cancelling ctx abandons the call; a late reply is then discarded.
// Concurrent calls are correlated correctly, but the emulator gives no ordering between them, so calls that
// depend on each other must be awaited in turn.
func (s *Session) Send(ctx context.Context, cmd CommandID, body []byte, call Call) (Response, error) {
	if call.Mode == CallStreaming && call.OnItem == nil {
		return Response{}, fmt.Errorf("%w: streaming call without item handler", ErrInvalidArgument)
	}

	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return Response{}, err
	}
	id := s.allocateID()
	p := &pendingCall{command: cmd, call: call, result: make(chan callResult, 1)}
	s.pending[id] = p
	s.mu.Unlock()

	frame := EncodeRequest(Request{APIVersion: s.apiVersion, RequestID: id, Command: cmd, Body: body})
	s.writeMu.Lock()
	_, err := s.conn.Write(frame)
	s.writeMu.Unlock()
	if err != nil {
		terr := &TransportError{Op: "write", Err: err}
		s.fail(terr)
		return Response{}, terr
	}

	select {
	case r := <-p.result:
		return r.resp, r.err
	case <-ctx.Done():
		s.forget(id)
		return Response{}, ctx.Err()
	}
}

// allocateID must be called with mu held.
func (s *Session) allocateID() uint32 {
	for {
		s.nextID++
		if s.nextID == EventRequestID {
			s.nextID = 1
			s.wrapped = true
		}
		if _, inUse := s.pending[s.nextID]; !inUse {
			return s.nextID
		}
	}
}

// issued reports if id is the event id or one this session has handed out.
func (s *Session) issued(id uint32) bool {
	if id == EventRequestID {
		return true
	} else if id == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wrapped || id <= s.nextID
}

func (s *Session) forget(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, id)
}

// take removes and returns the pending call for id.
func (s *Session) take(id uint32) (*pendingCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return p, ok
}

// Close ends the session. Pending calls fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	err := s.conn.Close()
	<-s.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Session) readLoop() {
	defer close(s.done)

	var buf recvBuffer
	chunk := make([]byte, sessionReadChunk)
	for {
		n, err := s.conn.Read(chunk)
		if n > 0 {
			buf.append(chunk[:n])
			s.drain(&buf)
		}
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				s.fail(ErrSessionClosed)
			} else {
				s.fail(&TransportError{Op: "read", Err: err})
			}
			_ = s.conn.Close()
			return
		}
	}
}

func (s *Session) drain(buf *recvBuffer) {
	for {
		resp, consumed, ok := TryDecodeResponseFor(buf.bytes(), s.issued)
		if !ok && consumed > 0 {
			log.Printf("WARN: monitor session %s discarded %d bytes while resynchronizing", s.id, consumed)
		}
		buf.consume(consumed)
		if !ok {
			return
		}
		s.dispatch(resp)
	}
}

func (s *Session) dispatch(resp Response) {
	if resp.IsEvent() {
		if s.onEvent == nil {
			return
		}
		ev, err := ParseEvent(resp)
		if err != nil {
			log.Printf("WARN: monitor session %s dropped malformed %s event: %v", s.id, resp.Type, err)
			return
		}
		s.onEvent(ev)
		return
	}

	s.mu.Lock()
	p, ok := s.pending[resp.RequestID]
	s.mu.Unlock()
	if !ok {
		log.Printf("WARN: monitor session %s dropped %s frame for unknown request %d", s.id, resp.Type, resp.RequestID)
		return
	}

	if resp.Type == p.call.Expect || resp.Code != CodeOK {
		if p, ok = s.take(resp.RequestID); !ok {
			return // abandoned concurrently
		}
		var err error
		if resp.Code != CodeOK {
			err = &RemoteCommandError{Command: p.command, Code: resp.Code}
		}
		p.result <- callResult{resp: resp, err: err}
		return
	}

	switch p.call.Mode {
	case CallStreaming:
		if err := p.call.OnItem(resp); err != nil {
			if p, ok = s.take(resp.RequestID); ok {
				p.result <- callResult{err: err}
			}
		}
	default:
		if p, ok = s.take(resp.RequestID); ok {
			p.result <- callResult{err: &ResponseShapeError{Command: p.command,
				Detail: fmt.Sprintf("unexpected %s frame while waiting for %s", resp.Type, p.call.Expect)}}
		}
	}
}

// fail marks the session dead and rejects every pending call with err.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	err = s.err
	pending := s.pending
	s.pending = make(map[uint32]*pendingCall)
	s.mu.Unlock()

	for _, p := range pending {
		p.result <- callResult{err: err}
	}
	if len(pending) > 0 {
		log.Printf("%smonitor session %s failed %d pending calls: %v", ErrorLogPrefix, s.id, len(pending), err)
	}
}
