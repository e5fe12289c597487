package shogi

import "fmt"

// Status is the lifecycle state of a Game.
type Status uint8

const (
	InProgress Status = iota
	AwaitingPromotion
	Ended
)

func (s Status) String() string {
	switch s {
	case AwaitingPromotion:
		return "awaiting_promotion"
	case Ended:
		return "ended"
	default:
		return "in_progress"
	}
}

// EndReason explains why a game ended.
type EndReason uint8

const (
	NotEnded EndReason = iota
	KingCaptured
	KingMissing
	Repetition
	PerpetualCheck
)

func (r EndReason) String() string {
	switch r {
	case KingCaptured:
		return "king_captured"
	case KingMissing:
		return "king_missing"
	case Repetition:
		return "repetition"
	case PerpetualCheck:
		return "perpetual_check"
	default:
		return ""
	}
}

// PlayerKind tells the game how to settle an unset promotion choice.
type PlayerKind uint8

const (
	Human PlayerKind = iota
	Computer
)

// MoveRecord is one finalized ply.
type MoveRecord struct {
	// Move has its promotion choice resolved.
	Move Move
	Side Side
	// Piece is the moving or dropped piece before the move.
	Piece    Piece
	Promoted bool
	Captured Piece
	// HandsBefore holds both hands as they were before the move.
	HandsBefore [2]Hand
}

// PendingPromotion is a human board move waiting for ResolvePromotion.
// The piece has already been relocated and any capture taken.
type PendingPromotion struct {
	Move        Move
	Side        Side
	Piece       Piece
	Captured    Piece
	HandsBefore [2]Hand
}

// Game owns the authoritative position, the move history and the terminal
// state. It is not safe for concurrent use.
type Game struct {
	initial Position
	pos     Position
	history []MoveRecord
	cursor  int
	players [2]PlayerKind

	status  Status
	winner  Side
	hasWin  bool
	reason  EndReason
	pending *PendingPromotion
	ledger  *repetitionLedger
}

// NewGame starts from the even-game position with two human players.
func NewGame() *Game {
	return NewGameFrom(InitialPosition())
}

// NewGameFrom starts a game from an arbitrary position.
func NewGameFrom(start *Position) *Game {
	g := &Game{initial: *start}
	g.reset()
	return g
}

func (g *Game) reset() {
	g.pos = g.initial
	g.cursor = 0
	g.status = InProgress
	g.hasWin = false
	g.reason = NotEnded
	g.pending = nil
	g.ledger = newRepetitionLedger(&g.pos)
	g.checkKings()
}

// SetPlayer sets whether side is played by a human or a computer.
func (g *Game) SetPlayer(side Side, kind PlayerKind) {
	g.players[side] = kind
}

// Player returns who plays side.
func (g *Game) Player(side Side) PlayerKind {
	return g.players[side]
}

// Position returns a copy of the current position.
func (g *Game) Position() *Position {
	return g.pos.Clone()
}

// InitialPosition returns a copy of the starting position.
func (g *Game) InitialPosition() *Position {
	return g.initial.Clone()
}

// Turn returns the side to move, or the mover while a promotion is pending.
func (g *Game) Turn() Side {
	return g.pos.turn
}

// Status returns the lifecycle state.
func (g *Game) Status() Status {
	return g.status
}

// Winner returns the winning side; ok is false while in progress or on a draw.
func (g *Game) Winner() (side Side, ok bool) {
	return g.winner, g.hasWin
}

// EndReason returns why the game ended.
func (g *Game) EndReason() EndReason {
	return g.reason
}

// Pending returns the promotion awaiting a decision.
func (g *Game) Pending() (PendingPromotion, bool) {
	if g.pending == nil {
		return PendingPromotion{}, false
	}
	return *g.pending, true
}

// Cursor is the number of history records applied to the current position.
func (g *Game) Cursor() int {
	return g.cursor
}

// History returns every recorded ply, including ones past the cursor.
func (g *Game) History() []MoveRecord {
	out := make([]MoveRecord, len(g.history))
	copy(out, g.history)
	return out
}

// LegalMoves lists the moves available to the side to move.
func (g *Game) LegalMoves() []Move {
	if g.status != InProgress {
		return nil
	}
	return g.pos.LegalMoves(g.pos.turn)
}

func (g *Game) ready() error {
	switch g.status {
	case Ended:
		return ErrGameOver
	case AwaitingPromotion:
		return ErrPromotionPending
	}
	return nil
}

// ApplyMove plays a board move for the side to move.
func (g *Game) ApplyMove(from, to Square, promote Promotion) error {
	return g.Apply(NewMove(from, to, promote))
}

// ApplyDrop drops kind from the mover's hand onto to.
func (g *Game) ApplyDrop(kind PieceKind, to Square) error {
	return g.Apply(NewDrop(kind, to))
}

// Apply plays m for the side to move. An unset promotion choice by a human
// on an eligible move leaves the game AwaitingPromotion.
func (g *Game) Apply(m Move) error {
	if err := g.ready(); err != nil {
		return err
	}
	if err := g.pos.Validate(m); err != nil {
		return err
	}
	side := g.pos.turn
	rec := MoveRecord{Move: m, Side: side, HandsBefore: g.pos.hands}

	if m.IsDrop() {
		rec.Move.Promote = PromoteUnset
		rec.Piece = Piece{Kind: m.Drop, Side: side}
		g.pos.relocate(m, false)
		g.finalize(rec)
		return nil
	}

	rec.Piece = g.pos.board.At(m.From)
	captured := g.pos.board.At(m.To)
	promote := false
	switch {
	case !g.pos.CanPromote(m):
	case g.pos.MustPromote(m):
		promote = true
	case m.Promote != PromoteUnset:
		promote = m.Promote == PromoteYes
	case captured.Kind == King:
	case g.players[side] == Computer:
		promote = true
	default:
		g.pending = &PendingPromotion{
			Move:        m,
			Side:        side,
			Piece:       rec.Piece,
			Captured:    g.pos.relocate(m, false),
			HandsBefore: rec.HandsBefore,
		}
		g.status = AwaitingPromotion
		return nil
	}
	rec.Captured = g.pos.relocate(m, promote)
	rec.Promoted = promote
	rec.Move.Promote = PromotionOf(promote)
	g.finalize(rec)
	return nil
}

// ResolvePromotion settles a pending promotion and finalizes the move.
func (g *Game) ResolvePromotion(promote bool) error {
	if g.status == Ended {
		return ErrGameOver
	}
	if g.pending == nil {
		return ErrNoPendingPromotion
	}
	p := g.pending
	if promote {
		piece := g.pos.board.At(p.Move.To)
		piece.Promoted = true
		g.pos.board.set(p.Move.To, piece)
	}
	m := p.Move
	m.Promote = PromotionOf(promote)
	g.pending = nil
	g.status = InProgress
	g.finalize(MoveRecord{
		Move:        m,
		Side:        p.Side,
		Piece:       p.Piece,
		Promoted:    promote,
		Captured:    p.Captured,
		HandsBefore: p.HandsBefore,
	})
	return nil
}

// finalize records a relocated move, dropping any records past the cursor,
// then advances.
func (g *Game) finalize(rec MoveRecord) {
	g.history = append(g.history[:g.cursor], rec)
	g.advance(rec)
}

// advance hands the turn over after rec and runs the terminal checks.
func (g *Game) advance(rec MoveRecord) {
	g.cursor++
	g.pos.turn = rec.Side.Opponent()

	if rec.Captured.Kind == King {
		g.end(rec.Side, true, KingCaptured)
		return
	}
	if g.checkKings() {
		return
	}
	res := g.ledger.add(&g.pos, rec.Side)
	switch {
	case res.perpetual:
		g.end(res.checker.Opponent(), true, PerpetualCheck)
	case res.repeated:
		g.end(First, false, Repetition)
	}
}

// checkKings ends the game when a king is missing from the board.
func (g *Game) checkKings() bool {
	firstKing := g.pos.HasKing(First)
	secondKing := g.pos.HasKing(Second)
	switch {
	case firstKing && secondKing:
		return false
	case firstKing:
		g.end(First, true, KingMissing)
	case secondKing:
		g.end(Second, true, KingMissing)
	default:
		g.end(First, false, KingMissing)
	}
	return true
}

func (g *Game) end(winner Side, hasWin bool, reason EndReason) {
	g.status = Ended
	g.winner = winner
	g.hasWin = hasWin
	g.reason = reason
}

// GoTo rebuilds the position after the first index records by replaying
// them from the initial position. Later records are kept for Redo until a
// new move is played.
func (g *Game) GoTo(index int) error {
	if index < 0 || index > len(g.history) {
		return fmt.Errorf("%w: %d", ErrHistoryIndex, index)
	}
	g.reset()
	for i := 0; i < index; i++ {
		rec := g.history[i]
		if g.status == Ended {
			return fmt.Errorf("move %d: %w", i+1, ErrGameOver)
		}
		if err := g.pos.Validate(rec.Move); err != nil {
			return fmt.Errorf("move %d: %w", i+1, err)
		}
		promote := rec.Move.Promote == PromoteYes || g.pos.MustPromote(rec.Move)
		g.pos.relocate(rec.Move, promote)
		g.advance(rec)
	}
	return nil
}

// Undo steps back one ply.
// A pending promotion is cancelled instead.
func (g *Game) Undo() error {
	if g.pending != nil {
		return g.GoTo(g.cursor)
	}
	if g.cursor == 0 {
		return fmt.Errorf("%w: nothing to undo", ErrHistoryIndex)
	}
	return g.GoTo(g.cursor - 1)
}

// Redo replays the next recorded ply.
func (g *Game) Redo() error {
	return g.GoTo(g.cursor + 1)
}
