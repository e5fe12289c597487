package usi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrResign is returned when the engine answers "bestmove resign".
	ErrResign = errors.New("usi: engine resigned")
	// ErrDeclareWin is returned for "bestmove win".
	ErrDeclareWin   = errors.New("usi: engine declared a win")
	ErrStdoutClosed = errors.New("usi: engine stdout closed")
)

// stopGrace bounds the wait for bestmove after "stop" is sent.
const stopGrace = 2 * time.Second

// Session is one conversation with an engine. Requests are serialized.
type Session struct {
	mu     sync.Mutex
	w      *lineWriter
	proc   *Process
	events chan Event
	errCh  chan error
	ID     map[string]string
}

// StartSession launches an engine process and wraps it in a Session.
func StartSession(ctx context.Context, path string, args ...string) (*Session, error) {
	proc, err := Start(ctx, path, args...)
	if err != nil {
		return nil, err
	}
	s := NewSession(proc.stdout, proc.stdin)
	s.proc = proc
	return s, nil
}

// NewSession talks USI over r and w.
func NewSession(r io.Reader, w io.Writer) *Session {
	reader := NewReader(r)
	events := make(chan Event, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(events)
		for {
			event, err := reader.Next()
			if err != nil {
				select {
				case errCh <- err:
				default:
				}
				return
			}
			events <- event
		}
	}()
	return &Session{w: &lineWriter{w: w}, events: events, errCh: errCh, ID: map[string]string{}}
}

// Stderr is the engine's stderr, or nil without a process.
func (s *Session) Stderr() io.Reader {
	if s == nil || s.proc == nil {
		return nil
	}
	return s.proc.Stderr()
}

// Send writes one raw command line.
func (s *Session) Send(line string) error {
	return s.w.send(line)
}

// Close sends quit and waits for the process to exit.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	_ = s.w.send("quit")
	err := s.w.close()
	if s.proc != nil {
		return s.proc.wait(3 * time.Second)
	}
	return err
}

// Handshake runs usi/usiok, sets options in name order, then
// isready/readyok and usinewgame.
func (s *Session) Handshake(ctx context.Context, options map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.send("usi"); err != nil {
		return err
	}
	for {
		event, err := s.nextEvent(ctx)
		if err != nil {
			return err
		}
		if event.Type == EventID {
			s.ID[event.Key] = event.Value
		}
		if event.Type == EventUSIOK {
			break
		}
	}
	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.w.send(fmt.Sprintf("setoption name %s value %s", name, options[name])); err != nil {
			return err
		}
	}
	if err := s.w.send("isready"); err != nil {
		return err
	}
	if _, err := s.waitFor(ctx, EventReadyOK); err != nil {
		return err
	}
	return s.w.send("usinewgame")
}

// Result is the outcome of one search.
type Result struct {
	Move   string
	Ponder string
	// Score is from the first player's point of view; HasScore is false when
	// the engine printed none.
	Score    Score
	HasScore bool
}

// BestMove searches sfen for ms milliseconds and returns the engine's move.
// Resign and win answers are reported as ErrResign and ErrDeclareWin.
func (s *Session) BestMove(ctx context.Context, sfen string, ms int) (string, error) {
	res, err := s.Search(ctx, sfen, ms)
	if err != nil {
		return "", err
	}
	switch res.Move {
	case "resign":
		return "", ErrResign
	case "win":
		return "", ErrDeclareWin
	}
	return res.Move, nil
}

// Evaluate searches sfen and returns the last score printed, from the first
// player's point of view, with the engine's best move.
func (s *Session) Evaluate(ctx context.Context, sfen string, ms int) (Score, string, error) {
	res, err := s.Search(ctx, sfen, ms)
	if err != nil {
		return Score{}, "", err
	}
	if !res.HasScore {
		return Score{}, res.Move, errors.New("usi: no score in engine output")
	}
	return res.Score, res.Move, nil
}

// Search sends position and go movetime, then collects info lines until
// bestmove. Cancelling ctx sends stop and drains the pending bestmove.
func (s *Session) Search(ctx context.Context, sfen string, ms int) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.send("position sfen " + sfen); err != nil {
		return Result{}, err
	}
	if ms <= 0 {
		ms = 1
	}
	if err := s.w.send(fmt.Sprintf("go movetime %d", ms)); err != nil {
		return Result{}, err
	}
	whiteToMove := false
	if fields := strings.Fields(sfen); len(fields) >= 2 {
		whiteToMove = fields[1] == "w"
	}

	var res Result
	for {
		event, err := s.nextEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.stop()
			}
			return Result{}, err
		}
		switch event.Type {
		case EventInfo:
			if score, ok := ParseScore(event.Raw); ok {
				res.Score = score
				res.HasScore = true
			}
		case EventBestMove:
			if whiteToMove {
				res.Score = res.Score.flip()
			}
			res.Move = event.Move
			res.Ponder = event.Ponder
			return res, nil
		}
	}
}

// stop interrupts a search and discards its bestmove so the next request
// starts clean.
func (s *Session) stop() {
	if err := s.w.send("stop"); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	_, _ = s.waitFor(ctx, EventBestMove)
}

func (s *Session) waitFor(ctx context.Context, want EventType) (Event, error) {
	for {
		event, err := s.nextEvent(ctx)
		if err != nil {
			return Event{}, err
		}
		if event.Type == want {
			return event, nil
		}
	}
}

func (s *Session) nextEvent(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case event, ok := <-s.events:
		if !ok {
			select {
			case err := <-s.errCh:
				if err != nil && err != io.EOF {
					return Event{}, err
				}
			default:
			}
			return Event{}, ErrStdoutClosed
		}
		return event, nil
	}
}
