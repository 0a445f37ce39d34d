package vice

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"
)

// ScreenReader is the subset of Client the screen prober needs.
type ScreenReader interface {
	MemGet(ctx context.Context, start, end uint16, opts ...MemOption) ([]byte, error)
	ExitMonitor(ctx context.Context) error
}

// Prober is the subset of Client the BASIC readiness check needs.
type Prober interface {
	ScreenReader
	KeyboardFeed(ctx context.Context, text string) error
}

// ScreenProbe configures WaitForScreen. Zero fields take defaults.
type ScreenProbe struct {
	// Pattern is searched for in screen memory, usually built with ScreenCodes.
	Pattern []byte
	// AnyText matches on the first non-blank cell instead of Pattern.
	AnyText     bool
	ScreenStart uint16 // default DefaultScreenStart
	ScreenLen   int    // default 1000
	// FromRow skips the rows above it, so a pattern already on screen further up does not match.
	FromRow  int
	Interval time.Duration
	Timeout  time.Duration
	// BetweenTicks runs after the emulator is resumed and before the next read.
	BetweenTicks func(ctx context.Context) error
}

// ScreenMatch is the outcome of WaitForScreen. Screen holds the last screen read.
type ScreenMatch struct {
	Found  bool
	Offset int
	Row    int
	Col    int
	Screen []byte
	Polls  int
}

func (p ScreenProbe) withDefaults() ScreenProbe {
	if p.ScreenStart == 0 {
		p.ScreenStart = DefaultScreenStart
	}
	if p.ScreenLen <= 0 {
		p.ScreenLen = ScreenColumns * ScreenRows
	}
	if p.Interval <= 0 {
		p.Interval = 50 * time.Millisecond
	}
	if p.Timeout <= 0 {
		p.Timeout = 3 * time.Second
	}
	return p
}

// WaitForScreen polls screen memory until the pattern appears or the timeout elapses. After each unsuccessful read
// the emulator is resumed, since it stays halted while servicing monitor commands and the guest would otherwise
// never make progress. A timeout is reported as a match with Found false, not as an error.
func WaitForScreen(ctx context.Context, c ScreenReader, probe ScreenProbe) (ScreenMatch, error) {
	probe = probe.withDefaults()
	if !probe.AnyText && len(probe.Pattern) == 0 {
		return ScreenMatch{}, fmt.Errorf("%w: screen probe needs a pattern or AnyText", ErrInvalidArgument)
	} else if int(probe.ScreenStart)+probe.ScreenLen-1 > 0xFFFF {
		return ScreenMatch{}, fmt.Errorf("%w: screen window runs past $ffff", ErrInvalidArgument)
	}
	end := probe.ScreenStart + uint16(probe.ScreenLen-1)
	deadline := time.Now().Add(probe.Timeout)

	var match ScreenMatch
	for {
		screen, err := c.MemGet(ctx, probe.ScreenStart, end)
		if err != nil {
			return match, fmt.Errorf("screen read: %w", err)
		}
		match.Polls++
		match.Screen = screen
		if off := searchScreen(screen, probe); off >= 0 {
			match.Found = true
			match.Offset = off
			match.Row = off / ScreenColumns
			match.Col = off % ScreenColumns
			return match, nil
		}

		if err := c.ExitMonitor(ctx); err != nil {
			return match, fmt.Errorf("resume between polls: %w", err)
		}
		if probe.BetweenTicks != nil {
			if err := probe.BetweenTicks(ctx); err != nil {
				return match, err
			}
		}
		if !time.Now().Add(probe.Interval).Before(deadline) {
			return match, nil
		}
		if err := sleepCtx(ctx, probe.Interval); err != nil {
			return match, err
		}
	}
}

func searchScreen(screen []byte, probe ScreenProbe) int {
	skip := min(max(probe.FromRow, 0)*ScreenColumns, len(screen))
	if probe.AnyText {
		for i, b := range screen[skip:] {
			if b != screenBlank && b != screenBlank|0x80 {
				return skip + i
			}
		}
		return -1
	}
	if i := bytes.Index(screen[skip:], probe.Pattern); i >= 0 {
		return skip + i
	}
	return -1
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PointerCheck expects the little endian word at Addr to equal Want.
type PointerCheck struct {
	Addr uint16
	Want uint16
}

// DefaultBasicPointers are the values of TXTTAB and MEMSIZ once the BASIC interpreter finished its cold start.
var DefaultBasicPointers = []PointerCheck{
	{Addr: 0x002B, Want: 0x0801},
	{Addr: 0x0037, Want: 0xA000},
}

// BasicReadyProbe configures WaitForBasicReady. Zero fields take defaults.
type BasicReadyProbe struct {
	Pointers       []PointerCheck // default DefaultBasicPointers
	PointerTimeout time.Duration  // default 5s
	// ConfirmPrompt presses return after the pointers match and waits for a new Prompt below the last one.
	ConfirmPrompt bool
	ConfirmText   string // default "\r"
	Prompt        []byte // default ScreenCodes("READY.")
	PromptTimeout time.Duration
	Interval      time.Duration
}

// BasicReadyResult reports which phase of WaitForBasicReady succeeded.
type BasicReadyResult struct {
	PointersOK bool
	PromptOK   bool
}

// Ready reports if every requested phase succeeded.
func (r BasicReadyResult) Ready(confirmPrompt bool) bool {
	return r.PointersOK && (!confirmPrompt || r.PromptOK)
}

// WaitForBasicReady waits for the interpreter's memory pointers to reach their initialized values, then
// optionally confirms the interpreter accepts input by pressing return and waiting for the prompt. Each phase has
// its own timeout, and running out of time is reported in the result rather than as an error.
func WaitForBasicReady(ctx context.Context, c Prober, probe BasicReadyProbe) (BasicReadyResult, error) {
	if probe.Pointers == nil {
		probe.Pointers = DefaultBasicPointers
	}
	if probe.PointerTimeout <= 0 {
		probe.PointerTimeout = 5 * time.Second
	}
	if probe.Interval <= 0 {
		probe.Interval = 50 * time.Millisecond
	}
	if probe.ConfirmText == "" {
		probe.ConfirmText = "\r"
	}
	if probe.Prompt == nil {
		probe.Prompt = ScreenCodes("READY.")
	}

	var result BasicReadyResult
	deadline := time.Now().Add(probe.PointerTimeout)
	for {
		ok, err := pointersMatch(ctx, c, probe.Pointers)
		if err != nil {
			return result, err
		} else if ok {
			result.PointersOK = true
			break
		}
		if err := c.ExitMonitor(ctx); err != nil {
			return result, fmt.Errorf("resume between polls: %w", err)
		}
		if !time.Now().Add(probe.Interval).Before(deadline) {
			return result, nil
		}
		if err := sleepCtx(ctx, probe.Interval); err != nil {
			return result, err
		}
	}
	if !probe.ConfirmPrompt {
		return result, nil
	}

	before, err := c.MemGet(ctx, DefaultScreenStart, DefaultScreenStart+ScreenColumns*ScreenRows-1)
	if err != nil {
		return result, fmt.Errorf("screen read: %w", err)
	}
	var fromRow int
	if i := bytes.LastIndex(before, probe.Prompt); i >= 0 {
		// a prompt on the last row scrolls up, the new one lands on the same row
		fromRow = min(i/ScreenColumns+1, ScreenRows-1)
	}
	if err := c.KeyboardFeed(ctx, probe.ConfirmText); err != nil {
		return result, fmt.Errorf("confirm prompt: %w", err)
	} else if err := c.ExitMonitor(ctx); err != nil {
		return result, fmt.Errorf("resume after confirm: %w", err)
	}
	match, err := WaitForScreen(ctx, c, ScreenProbe{Pattern: probe.Prompt, FromRow: fromRow,
		Interval: probe.Interval, Timeout: probe.PromptTimeout})
	if err != nil {
		return result, err
	}
	result.PromptOK = match.Found
	return result, nil
}

func pointersMatch(ctx context.Context, c ScreenReader, checks []PointerCheck) (bool, error) {
	for _, pc := range checks {
		if pc.Addr == 0xFFFF {
			return false, fmt.Errorf("%w: pointer at $ffff", ErrInvalidArgument)
		}
		word, err := c.MemGet(ctx, pc.Addr, pc.Addr+1)
		if err != nil {
			return false, fmt.Errorf("pointer read at $%04x: %w", pc.Addr, err)
		} else if binary.LittleEndian.Uint16(word) != pc.Want {
			return false, nil
		}
	}
	return true, nil
}
