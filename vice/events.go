package vice

import "fmt"

// Event is an unsolicited frame. PC is set for stopped and resumed events, Checkpoint for checkpoint hits. Jam
// events carry no payload.
type Event struct {
	Type       ResponseType
	PC         uint16
	Checkpoint *Checkpoint
	Raw        Response
}

func (e Event) String() string {
	switch {
	case e.Checkpoint != nil:
		return fmt.Sprintf("checkpoint %d hit at $%04x", e.Checkpoint.ID, e.Checkpoint.Start)
	case e.Type == ResponseStopped || e.Type == ResponseResumed:
		return fmt.Sprintf("%s at $%04x", e.Type, e.PC)
	}
	return e.Type.String()
}

// ParseEvent decodes an unsolicited frame. Unrecognized event types are returned with only Type and Raw set. On
// error the returned event still carries Type and Raw.
func ParseEvent(resp Response) (Event, error) {
	ev := Event{Type: resp.Type, Raw: resp}
	switch resp.Type {
	case ResponseStopped, ResponseResumed:
		r := newBodyReader(CommandID(resp.Type), resp.Body)
		ev.PC = r.u16("program counter")
		if r.err != nil {
			return ev, r.err
		}
	case ResponseCheckpointInfo:
		cp, err := ParseCheckpoint(CmdCheckpointGet, resp.Body)
		if err != nil {
			return ev, err
		}
		ev.Checkpoint = &cp
	}
	return ev, nil
}

// EncodePCEvent produces the body of a stopped or resumed event.
func EncodePCEvent(pc uint16) []byte {
	var w bodyWriter
	return w.u16(pc).bytes()
}
