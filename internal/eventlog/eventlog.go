package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is a single entry of a status history.
type Event struct {
	Kind      string `json:"status"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
	Reason    string `json:"reason,omitempty"`
	Actor     string `json:"actor,omitempty"`
}

// At returns the event timestamp as a time.Time.
func (e Event) At() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// UnmarshalJSON accepts both the "status" and "event" spellings of the kind key.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Status    *string `json:"status"`
		Event     *string `json:"event"`
		Timestamp *int64  `json:"timestamp"`
		Reason    string  `json:"reason"`
		Actor     string  `json:"actor"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Status != nil && *raw.Status != "":
		e.Kind = *raw.Status
	case raw.Event != nil && *raw.Event != "":
		e.Kind = *raw.Event
	default:
		return errors.New("event has no status")
	}
	if raw.Timestamp != nil {
		e.Timestamp = *raw.Timestamp
	}
	e.Reason = raw.Reason
	e.Actor = raw.Actor
	return nil
}

// Log is an ordered, append-only sequence of events. Treat a Log as immutable:
// Append returns a fresh slice and never writes into the receiver's backing array.
type Log []Event

// Append returns a new log with one additional entry.
func Append(log Log, kind string, at time.Time, reason, actor string) Log {
	out := make(Log, len(log), len(log)+1)
	copy(out, log)
	return append(out, Event{
		Kind:      kind,
		Timestamp: at.UnixMilli(),
		Reason:    reason,
		Actor:     actor,
	})
}

// Last returns the most recent event.
func (l Log) Last() (Event, bool) {
	if len(l) == 0 {
		return Event{}, false
	}
	return l[len(l)-1], true
}

// LastOf returns the most recent event of the given kind.
func (l Log) LastOf(kind string) (Event, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		if l[i].Kind == kind {
			return l[i], true
		}
	}
	return Event{}, false
}

// Derive returns the kind of the last event, or def when the log is empty.
func Derive(log Log, def string) string {
	last, ok := log.Last()
	if !ok {
		return def
	}
	return last.Kind
}

// Encode renders the log in its stored textual form.
func Encode(log Log) string {
	if len(log) == 0 {
		return "[]"
	}
	data, err := json.Marshal([]Event(log))
	if err != nil {
		// Event only holds strings and integers.
		panic(fmt.Sprintf("eventlog: encode: %v", err))
	}
	return string(data)
}

// Decode parses the stored textual form strictly. Blank input is an empty log.
// Entries that are not objects or carry no kind make the whole field invalid.
func Decode(text string) (Log, error) {
	if isBlank(text) {
		return Log{}, nil
	}
	var events []Event
	if err := json.Unmarshal([]byte(text), &events); err != nil {
		return nil, fmt.Errorf("decode event log: %w", err)
	}
	if events == nil {
		return Log{}, nil
	}
	return Log(events), nil
}

// DecodeLenient parses the stored form and never fails. Malformed input yields an
// empty log and is reported through the malformed-field hook under field.
func DecodeLenient(field, text string) Log {
	log, err := Decode(text)
	if err != nil {
		reportMalformed(field, err)
		return Log{}
	}
	return log
}

func isBlank(text string) bool {
	text = strings.TrimSpace(text)
	return text == "" || text == "null"
}
