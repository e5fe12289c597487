package usi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"koma/pkg/match"
	"koma/pkg/shogi"
)

// Source asks an engine session for the controller's moves.
type Source struct {
	Session *Session
	Millis  int
}

func (s Source) RequestMove(ctx context.Context, req match.Request) (shogi.Move, error) {
	pos := req.Position.Clone()
	pos.SetTurn(req.Side)
	text, err := s.Session.BestMove(ctx, pos.SFEN(req.Ply+1), s.Millis)
	if err != nil {
		return shogi.Move{}, err
	}
	m, err := shogi.ParseUSIMove(text)
	if err != nil {
		return shogi.Move{}, fmt.Errorf("usi: bestmove %q: %w", text, err)
	}
	return m, nil
}

func (s Source) String() string {
	if name := s.Session.ID["name"]; name != "" {
		return "usi:" + name
	}
	return "usi"
}

// ScorePosition evaluates pos for the side to move and returns centipawns
// from the first player's point of view.
func (s *Session) ScorePosition(ctx context.Context, pos *shogi.Position, moveNumber, ms int) (int, error) {
	score, _, err := s.Evaluate(ctx, pos.SFEN(moveNumber), ms)
	if err != nil {
		return 0, err
	}
	return score.Centipawns(), nil
}

// Launch starts the engine named by cfg and completes the handshake.
func Launch(ctx context.Context, cfg match.Config, root string) (*Session, error) {
	path := cfg.EnginePath(root)
	if path == "" {
		return nil, errors.New("usi: config.json names no engine")
	}
	s, err := StartSession(ctx, path, cfg.EngineArgs...)
	if err != nil {
		return nil, err
	}
	if err := s.Handshake(ctx, cfg.Options); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// IsEngineFailure reports errors after which the session should be restarted.
func IsEngineFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStdoutClosed) || errors.Is(err, ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	return strings.Contains(err.Error(), "broken pipe")
}
