package archive

import (
	"context"
	"math"
	"strings"
	"time"

	"koma/pkg/ai"
	"koma/pkg/shogi"
	"koma/pkg/usi"
)

const (
	ResultFirstWin   = "first_win"
	ResultSecondWin  = "second_win"
	ResultDraw       = "draw"
	ResultUnfinished = "unfinished"
)

// Evaluator scores pos from the first player's point of view. moveNumber is
// the SFEN move counter of pos.
type Evaluator func(ctx context.Context, pos *shogi.Position, moveNumber int) (kind string, value int, err error)

// MaterialEvaluator scores with the built-in material evaluation.
func MaterialEvaluator() Evaluator {
	return func(ctx context.Context, pos *shogi.Position, _ int) (string, int, error) {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}
		return "material", int(math.Round(ai.Evaluate(pos, shogi.First))), nil
	}
}

// EngineEvaluator asks a USI engine for a score with ms per position.
func EngineEvaluator(s *usi.Session, ms int) Evaluator {
	return func(ctx context.Context, pos *shogi.Position, moveNumber int) (string, int, error) {
		score, _, err := s.Evaluate(ctx, pos.SFEN(moveNumber), ms)
		if err != nil {
			return "", 0, err
		}
		return score.Kind, score.Value, nil
	}
}

// Result names the outcome of g.
func Result(g *shogi.Game) string {
	if g.Status() != shogi.Ended {
		return ResultUnfinished
	}
	winner, ok := g.Winner()
	switch {
	case !ok:
		return ResultDraw
	case winner == shogi.First:
		return ResultFirstWin
	default:
		return ResultSecondWin
	}
}

// Meta is the part of a record the game itself does not know.
type Meta struct {
	ID       string
	Names    [2]string
	Seed     int64
	Duration time.Duration
}

// BuildRecord summarizes the plies of g up to its cursor. With a non-nil
// eval every position after a move is scored; a scoring error aborts.
func BuildRecord(ctx context.Context, meta Meta, g *shogi.Game, eval Evaluator) (GameRecord, error) {
	start := g.InitialPosition()
	rec := GameRecord{
		GameID:     meta.ID,
		SenteName:  meta.Names[shogi.First],
		GoteName:   meta.Names[shogi.Second],
		Seed:       meta.Seed,
		StartSFEN:  start.SFEN(1),
		Result:     Result(g),
		WinReason:  g.EndReason().String(),
		DurationMS: meta.Duration.Milliseconds(),
		MoveEvals:  []MoveEval{},
	}
	history := g.History()[:g.Cursor()]
	moves := make([]string, 0, len(history))
	pos := start
	for i, mr := range history {
		moves = append(moves, mr.Move.USI())
		if eval == nil {
			continue
		}
		if _, err := pos.Apply(mr.Move); err != nil {
			return GameRecord{}, err
		}
		if g.Status() == shogi.Ended && i == len(history)-1 && g.EndReason() == shogi.KingCaptured {
			// Nothing to score once a king is off the board.
			break
		}
		kind, value, err := eval(ctx, pos, i+2)
		if err != nil {
			return GameRecord{}, err
		}
		rec.MoveEvals = append(rec.MoveEvals, MoveEval{
			Ply:        int32(i + 1),
			Move:       mr.Move.USI(),
			ScoreType:  kind,
			ScoreValue: int32(value),
		})
	}
	rec.Moves = strings.Join(moves, " ")
	rec.MoveCount = int32(len(moves))
	return rec, nil
}

var kifReasons = map[string]string{
	"投了":   "resign",
	"詰み":   "checkmate",
	"千日手":  "repetition",
	"持将棋":  "impasse",
	"切れ負け": "timeout",
	"反則勝ち": "foul",
	"反則負け": "foul",
	"入玉勝ち": "declare_win",
	"勝ち宣言": "declare_win",
	"中断":   "abort",
}

// ApplyKIF replaces the replayed outcome with the one written in k. A
// replayed game rarely ends on its own since resignations are not moves.
func ApplyKIF(rec *GameRecord, k *shogi.KIF) {
	switch k.Result {
	case "first_win":
		rec.Result = ResultFirstWin
	case "second_win":
		rec.Result = ResultSecondWin
	case "draw":
		rec.Result = ResultDraw
	}
	if reason, ok := kifReasons[k.Terminal]; ok && rec.WinReason == "" {
		rec.WinReason = reason
	}
}
