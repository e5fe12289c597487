package ai

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/constraints"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"koma/pkg/shogi"
)

// Level selects the move-selection strategy.
type Level uint8

const (
	Beginner Level = iota
	Intermediate
	Advanced
)

func (l Level) String() string {
	switch l {
	case Beginner:
		return "beginner"
	case Advanced:
		return "advanced"
	default:
		return "intermediate"
	}
}

// ParseLevel accepts the level names and their 1-3 shorthands.
func ParseLevel(text string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "beginner", "easy", "1":
		return Beginner, nil
	case "intermediate", "normal", "2", "":
		return Intermediate, nil
	case "advanced", "hard", "3":
		return Advanced, nil
	default:
		return Intermediate, fmt.Errorf("unknown ai level: %q", text)
	}
}

const (
	DefaultRandomRate = 0.5
	DefaultDepth      = 2
	DefaultReplyLimit = 10

	advanceBonus    = 10
	dropCost        = 0.1
	enemyCampBonus  = 20
	handValueFactor = 0.8
)

var ErrNoLegalMove = errors.New("no legal move")

func DefaultLogger(a ...any) {
	fmt.Println(a...)
}

type Config struct {
	Level Level
	// RandomRate is the chance that Beginner plays a uniformly random move.
	RandomRate float64
	Depth      int
	// ReplyLimit truncates every non-root move list during Minimax.
	ReplyLimit int
	// Seed fixes the random source; zero seeds from the clock.
	Seed   int64
	Debug  bool
	Logger func(...any)
}

func DefaultConfig() Config {
	return Config{
		Level:      Intermediate,
		RandomRate: DefaultRandomRate,
		Depth:      DefaultDepth,
		ReplyLimit: DefaultReplyLimit,
	}
}

// Engine chooses moves for one side. It is safe for concurrent use; calls
// are serialized.
type Engine struct {
	mu         sync.Mutex
	level      Level
	randomRate float64
	depth      int
	replyLimit int
	rng        *rand.Rand
	nodes      uint64
	debug      bool
	logger     func(...any)
}

func NewEngine(cfg *Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = DefaultLogger
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	depth := cfg.Depth
	if depth <= 0 {
		depth = DefaultDepth
	}
	limit := cfg.ReplyLimit
	if limit <= 0 {
		limit = DefaultReplyLimit
	}
	return &Engine{
		level:      cfg.Level,
		randomRate: clamp(cfg.RandomRate, 0, 1),
		depth:      depth,
		replyLimit: limit,
		rng:        rand.New(rand.NewSource(seed)),
		debug:      cfg.Debug,
		logger:     cfg.Logger,
	}
}

func (e *Engine) Level() Level {
	return e.level
}

// Nodes returns the number of positions visited by the last Minimax call.
func (e *Engine) Nodes() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nodes
}

// Choose picks a move for side with the engine's level. The returned move
// carries an explicit promotion choice: promote whenever allowed.
func (e *Engine) Choose(pos *shogi.Position, side shogi.Side) (shogi.Move, error) {
	switch e.level {
	case Beginner:
		return e.Greedy(pos, side)
	case Advanced:
		return e.Minimax(pos, side)
	default:
		return e.Heuristic(pos, side)
	}
}

// Greedy plays a random move with probability RandomRate and otherwise the
// most valuable capture, falling back to a random move.
func (e *Engine) Greedy(pos *shogi.Position, side shogi.Side) (shogi.Move, error) {
	moves := pos.LegalMoves(side)
	if len(moves) == 0 {
		return shogi.Move{}, ErrNoLegalMove
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rng.Float64() < e.randomRate {
		return withPromotion(pos, moves[e.rng.Intn(len(moves))]), nil
	}
	best := -1
	bestValue := 0.0
	for i, m := range moves {
		if m.IsDrop() {
			continue
		}
		target := pos.PieceAt(m.To)
		if target.Empty() {
			continue
		}
		if v := Value(target); v > bestValue {
			best, bestValue = i, v
		}
	}
	if best < 0 {
		return withPromotion(pos, moves[e.rng.Intn(len(moves))]), nil
	}
	return withPromotion(pos, moves[best]), nil
}

// Heuristic scores every legal move on its own and plays the first best one.
func (e *Engine) Heuristic(pos *shogi.Position, side shogi.Side) (shogi.Move, error) {
	moves := pos.LegalMoves(side)
	if len(moves) == 0 {
		return shogi.Move{}, ErrNoLegalMove
	}
	best := 0
	bestScore := math.Inf(-1)
	for i, m := range moves {
		if s := ScoreMove(pos, side, m); s > bestScore {
			best, bestScore = i, s
		}
	}
	return withPromotion(pos, moves[best]), nil
}

// ScoreMove is the Heuristic score of m for side.
func ScoreMove(pos *shogi.Position, side shogi.Side, m shogi.Move) float64 {
	if m.IsDrop() {
		score := -dropCost * Value(shogi.Piece{Kind: m.Drop, Side: side})
		if shogi.InPromotionZone(side, m.To.Row) {
			score += enemyCampBonus
		}
		return score
	}
	score := 0.0
	if target := pos.PieceAt(m.To); !target.Empty() {
		score += Value(target)
	}
	if (side == shogi.First && m.To.Row < m.From.Row) || (side == shogi.Second && m.To.Row > m.From.Row) {
		score += advanceBonus
	}
	return score
}

// Minimax searches Depth plies and plays the root move with the best
// material balance for side. Replies below the root are cut to ReplyLimit
// moves in generation order.
func (e *Engine) Minimax(pos *shogi.Position, side shogi.Side) (shogi.Move, error) {
	moves := pos.LegalMoves(side)
	if len(moves) == 0 {
		return shogi.Move{}, ErrNoLegalMove
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	e.nodes = 0
	best := 0
	bestScore := math.Inf(-1)
	for i, m := range moves {
		child := play(pos, side, m)
		score := e.search(child, e.depth-1, side.Opponent(), false, side)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	chosen := withPromotion(pos, moves[best])
	if e.debug {
		elapsed := time.Since(start)
		e.logger(message.NewPrinter(language.English).
			Sprintf("minimax depth:%d move:%s score:%.1f nodes:%d (%.0fn/s) t:%s",
				e.depth, chosen.USI(), bestScore, e.nodes, float64(e.nodes)/((elapsed + 1).Seconds()), elapsed))
	}
	return chosen, nil
}

func (e *Engine) search(pos *shogi.Position, depth int, toMove shogi.Side, maximizing bool, root shogi.Side) float64 {
	e.nodes++
	if depth <= 0 {
		return Evaluate(pos, root)
	}
	moves := pos.LegalMoves(toMove)
	if len(moves) == 0 {
		if maximizing {
			return math.Inf(-1)
		}
		return math.Inf(1)
	}
	if len(moves) > e.replyLimit {
		moves = moves[:e.replyLimit]
	}
	if maximizing {
		score := math.Inf(-1)
		for _, m := range moves {
			score = max(score, e.search(play(pos, toMove, m), depth-1, toMove.Opponent(), false, root))
		}
		return score
	}
	score := math.Inf(1)
	for _, m := range moves {
		score = min(score, e.search(play(pos, toMove, m), depth-1, toMove.Opponent(), true, root))
	}
	return score
}

// play returns a copy of pos with m applied for side, promoting whenever allowed.
func play(pos *shogi.Position, side shogi.Side, m shogi.Move) *shogi.Position {
	child := pos.Clone()
	child.SetTurn(side)
	if _, err := child.Apply(withPromotion(child, m)); err != nil {
		panic(fmt.Sprintf("generated move %s rejected: %v", m.USI(), err))
	}
	return child
}

// withPromotion resolves the promotion choice the way the engine plays:
// always promote when the rules allow it.
func withPromotion(pos *shogi.Position, m shogi.Move) shogi.Move {
	if m.IsDrop() {
		m.Promote = shogi.PromoteUnset
		return m
	}
	m.Promote = shogi.PromotionOf(pos.CanPromote(m))
	return m
}

// Evaluate is the material balance from perspective's side: board pieces at
// full value, hand pieces at 0.8.
func Evaluate(pos *shogi.Position, perspective shogi.Side) float64 {
	score := 0.0
	board := pos.Board()
	for r := 0; r < 9; r++ {
		for c := 0; c < 9; c++ {
			p := board[r][c]
			if p.Empty() {
				continue
			}
			if p.Side == perspective {
				score += Value(p)
			} else {
				score -= Value(p)
			}
		}
	}
	for _, kind := range shogi.HandKinds {
		v := handValueFactor * Value(shogi.Piece{Kind: kind})
		score += v * float64(pos.Hand(perspective).Count(kind))
		score -= v * float64(pos.Hand(perspective.Opponent()).Count(kind))
	}
	return score
}

func max[T constraints.Ordered](x1, x2 T) T {
	if x1 > x2 {
		return x1
	}
	return x2
}

func min[T constraints.Ordered](x1, x2 T) T {
	if x1 < x2 {
		return x1
	}
	return x2
}

func clamp[T constraints.Ordered](x, lo, hi T) T {
	return min(max(x, lo), hi)
}
