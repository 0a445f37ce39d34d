package vice

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
)

// BasicStart is where tokenized BASIC programs are loaded.
const BasicStart uint16 = 0x0801

// basicPointers is the zero page location of TXTTAB, followed by VARTAB, ARYTAB and STREND.
const basicPointers uint16 = 0x002B

// HelloProgram is the tokenized form of `10 PRINT "HELLO"`.
var HelloProgram = []byte{
	0x0E, 0x08, // link to next line
	0x0A, 0x00, // line 10
	0x99,                                     // PRINT
	0x22, 0x48, 0x45, 0x4C, 0x4C, 0x4F, 0x22, // "HELLO"
	0x00,       // end of line
	0x00, 0x00, // end of program
}

// LoadBasicProgram writes a tokenized program at BasicStart and points the interpreter's program and variable
// pointers at it, as the LOAD command would.
func LoadBasicProgram(ctx context.Context, c *Client, program []byte) error {
	if len(program) < 2 {
		return fmt.Errorf("%w: program of %d bytes", ErrInvalidArgument, len(program))
	} else if int(BasicStart)+len(program) > 0xA000 {
		return fmt.Errorf("%w: program of %d bytes exceeds BASIC memory", ErrInvalidArgument, len(program))
	}
	if err := c.MemSetChunked(ctx, BasicStart, program); err != nil {
		return fmt.Errorf("write program: %w", err)
	}
	end := BasicStart + uint16(len(program))
	pointers := make([]byte, 8)
	binary.LittleEndian.PutUint16(pointers[0:], BasicStart)
	binary.LittleEndian.PutUint16(pointers[2:], end)
	binary.LittleEndian.PutUint16(pointers[4:], end)
	binary.LittleEndian.PutUint16(pointers[6:], end)
	if err := c.MemSet(ctx, basicPointers, pointers); err != nil {
		return fmt.Errorf("write program pointers: %w", err)
	}
	return nil
}

// WritePRG writes data to path as a PRG file, prefixed with its load address.
func WritePRG(path string, load uint16, data []byte) error {
	buf := binary.LittleEndian.AppendUint16(make([]byte, 0, len(data)+2), load)
	buf = append(buf, data...)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("write prg failed: %w", err)
	}
	return nil
}

// ReadPRG reads a PRG file, returning its load address and payload.
func ReadPRG(path string) (uint16, []byte, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, err
	} else if len(buf) < 2 {
		return 0, nil, fmt.Errorf("%w: prg file %s has no load address", ErrInvalidArgument, path)
	}
	return binary.LittleEndian.Uint16(buf), buf[2:], nil
}
