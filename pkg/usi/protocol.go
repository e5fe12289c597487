package usi

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// EventType is the kind of a line sent by the engine.
type EventType int

const (
	EventUnknown EventType = iota
	EventID
	EventOption
	EventUSIOK
	EventReadyOK
	EventInfo
	EventBestMove
)

// Event is a parsed engine line.
type Event struct {
	Type   EventType
	Key    string
	Value  string
	Move   string
	Ponder string
	Raw    string
}

// ParseLine converts a raw engine line into an Event.
func ParseLine(line string) (Event, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, errors.New("empty line")
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "id":
		if len(fields) < 3 {
			return Event{}, fmt.Errorf("invalid id: %q", line)
		}
		return Event{Type: EventID, Key: fields[1], Value: strings.Join(fields[2:], " ")}, nil
	case "option":
		e := Event{Type: EventOption, Raw: line}
		if len(fields) >= 3 && fields[1] == "name" {
			e.Key = fields[2]
		}
		return e, nil
	case "usiok":
		return Event{Type: EventUSIOK}, nil
	case "readyok":
		return Event{Type: EventReadyOK}, nil
	case "bestmove":
		if len(fields) < 2 {
			return Event{}, fmt.Errorf("invalid bestmove: %q", line)
		}
		e := Event{Type: EventBestMove, Move: fields[1]}
		if len(fields) >= 4 && fields[2] == "ponder" {
			e.Ponder = fields[3]
		}
		return e, nil
	case "info":
		return Event{Type: EventInfo, Raw: line}, nil
	default:
		return Event{Type: EventUnknown, Raw: line}, nil
	}
}

// Reader reads engine lines one event at a time. Blank lines are skipped.
type Reader struct {
	scanner *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	return &Reader{scanner: bufio.NewScanner(r)}
}

// Next blocks until an event is available or the stream ends.
func (r *Reader) Next() (Event, error) {
	for r.scanner.Scan() {
		if strings.TrimSpace(r.scanner.Text()) == "" {
			continue
		}
		return ParseLine(r.scanner.Text())
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// MateScore is the centipawn stand-in for a forced mate.
const MateScore = 32000

// Score is an engine evaluation: "cp" centipawns or "mate" plies.
type Score struct {
	Kind  string
	Value int
}

func (s Score) String() string {
	switch s.Kind {
	case "cp":
		return fmt.Sprintf("cp %d", s.Value)
	case "mate":
		return fmt.Sprintf("mate %d", s.Value)
	}
	return "unknown"
}

// Centipawns maps mate scores onto ±MateScore.
func (s Score) Centipawns() int {
	if s.Kind != "mate" {
		return s.Value
	}
	if s.Value < 0 {
		return -MateScore
	}
	return MateScore
}

func (s Score) flip() Score {
	s.Value = -s.Value
	return s
}

// ParseScore extracts the score from an info line.
func ParseScore(line string) (Score, bool) {
	fields := strings.Fields(line)
	for i := 0; i+2 < len(fields); i++ {
		if fields[i] != "score" {
			continue
		}
		kind := fields[i+1]
		if kind != "cp" && kind != "mate" {
			return Score{}, false
		}
		value, err := strconv.Atoi(strings.TrimPrefix(fields[i+2], "+"))
		if err != nil {
			return Score{}, false
		}
		return Score{Kind: kind, Value: value}, true
	}
	return Score{}, false
}
