package shogi

import (
	"fmt"
	"strings"
)

// StandardSFEN is the even-game starting position.
const StandardSFEN = "lnsgkgsnl/1r5b1/ppppppppp/9/9/9/PPPPPPPPP/1B5R1/LNSGKGSNL b - 1"

// Board is the 9x9 grid of squares.
type Board [9][9]Piece

// At returns the piece on sq, or the empty piece when sq is off the board.
func (b *Board) At(sq Square) Piece {
	if !sq.Valid() {
		return Piece{}
	}
	return b[sq.Row][sq.Col]
}

func (b *Board) set(sq Square, p Piece) {
	if sq.Valid() {
		b[sq.Row][sq.Col] = p
	}
}

// Hand counts the pieces a side holds, indexed by PieceKind.
type Hand [kindCount]int

// Count returns how many pieces of kind are held.
func (h Hand) Count(kind PieceKind) int {
	if int(kind) >= kindCount {
		return 0
	}
	return h[kind]
}

// Total returns the number of pieces held.
func (h Hand) Total() int {
	n := 0
	for _, c := range h {
		n += c
	}
	return n
}

// Kinds expands the hand into a list of kinds in SFEN order, one entry per piece.
func (h Hand) Kinds() []PieceKind {
	var out []PieceKind
	for _, k := range HandKinds {
		for i := 0; i < h[k]; i++ {
			out = append(out, k)
		}
	}
	return out
}

// Position is a board, both hands and the side to move. It is a plain
// value: copying it yields an independent position.
type Position struct {
	board Board
	hands [2]Hand
	turn  Side
}

// NewPosition returns an empty board with First to move.
func NewPosition() *Position {
	return &Position{}
}

// InitialPosition returns the even-game starting position.
func InitialPosition() *Position {
	pos, _, err := ParseSFEN(StandardSFEN)
	if err != nil {
		panic(err)
	}
	return pos
}

// Clone returns an independent copy.
func (p *Position) Clone() *Position {
	c := *p
	return &c
}

// Turn returns the side to move.
func (p *Position) Turn() Side {
	return p.turn
}

// SetTurn sets the side to move.
func (p *Position) SetTurn(side Side) {
	p.turn = side
}

// Board returns a copy of the board.
func (p *Position) Board() Board {
	return p.board
}

// PieceAt returns the piece on sq.
func (p *Position) PieceAt(sq Square) Piece {
	return p.board.At(sq)
}

// SetPiece places piece on the square given by file and rank numbers.
func (p *Position) SetPiece(file, rank int, kind PieceKind, side Side, promoted bool) {
	p.board.set(SquareAt(file, rank), Piece{Kind: kind, Side: side, Promoted: promoted})
}

// Put places piece on sq; the empty piece clears it.
func (p *Position) Put(sq Square, piece Piece) {
	p.board.set(sq, piece)
}

// Hand returns a copy of side's hand.
func (p *Position) Hand(side Side) Hand {
	return p.hands[side]
}

// AddToHand adjusts side's count of kind by n.
func (p *Position) AddToHand(side Side, kind PieceKind, n int) {
	if kind == NoKind || kind == King || int(kind) >= kindCount {
		return
	}
	p.hands[side][kind] += n
	if p.hands[side][kind] < 0 {
		p.hands[side][kind] = 0
	}
}

// KingSquare locates side's king.
func (p *Position) KingSquare(side Side) (Square, bool) {
	for r := 0; r < 9; r++ {
		for c := 0; c < 9; c++ {
			piece := p.board[r][c]
			if piece.Kind == King && piece.Side == side {
				return Square{Row: r, Col: c}, true
			}
		}
	}
	return Square{}, false
}

// HasKing reports whether side still has a king on the board.
func (p *Position) HasKing(side Side) bool {
	_, ok := p.KingSquare(side)
	return ok
}

// PieceMoves returns where the piece on from may move, excluding squares
// held by its own side. An empty square yields nil.
func (p *Position) PieceMoves(from Square) []Square {
	piece := p.board.At(from)
	if piece.Empty() {
		return nil
	}
	cands := Destinations(piece, from, &p.board)
	out := cands[:0]
	for _, sq := range cands {
		target := p.board.At(sq)
		if !target.Empty() && target.Side == piece.Side {
			continue
		}
		out = append(out, sq)
	}
	return out
}

// CanDrop reports whether side may drop kind on to. The pawn rule forbids
// a second unpromoted pawn on the file and the last rank; it does not
// prove drop-pawn mate.
func (p *Position) CanDrop(side Side, kind PieceKind, to Square) bool {
	if !to.Valid() || !p.board.At(to).Empty() {
		return false
	}
	if kind == NoKind || kind == King || p.hands[side].Count(kind) == 0 {
		return false
	}
	edge := ranksFromFarEdge(side, to.Row)
	switch kind {
	case Pawn:
		if edge == 0 {
			return false
		}
		for r := 0; r < 9; r++ {
			q := p.board[r][to.Col]
			if q.Kind == Pawn && q.Side == side && !q.Promoted {
				return false
			}
		}
	case Lance:
		if edge == 0 {
			return false
		}
	case Knight:
		if edge <= 1 {
			return false
		}
	}
	return true
}

// LegalMoves enumerates side's moves: board moves in row-major order of
// the moving piece, then drops for each held kind over every square.
// Promotion is left unset; see CanPromote and MustPromote.
func (p *Position) LegalMoves(side Side) []Move {
	var moves []Move
	for r := 0; r < 9; r++ {
		for c := 0; c < 9; c++ {
			piece := p.board[r][c]
			if piece.Empty() || piece.Side != side {
				continue
			}
			from := Square{Row: r, Col: c}
			for _, to := range p.PieceMoves(from) {
				moves = append(moves, Move{From: from, To: to})
			}
		}
	}
	for _, kind := range HandKinds {
		if p.hands[side][kind] == 0 {
			continue
		}
		for r := 0; r < 9; r++ {
			for c := 0; c < 9; c++ {
				to := Square{Row: r, Col: c}
				if p.CanDrop(side, kind, to) {
					moves = append(moves, Move{To: to, Drop: kind})
				}
			}
		}
	}
	return moves
}

// IsLegal reports whether m is in side's legal move set, ignoring the
// promotion flag.
func (p *Position) IsLegal(side Side, m Move) bool {
	if m.IsDrop() {
		return p.CanDrop(side, m.Drop, m.To)
	}
	piece := p.board.At(m.From)
	if piece.Empty() || piece.Side != side {
		return false
	}
	return containsSquare(p.PieceMoves(m.From), m.To)
}

// Attacked reports whether any piece of by reaches sq.
func (p *Position) Attacked(sq Square, by Side) bool {
	for r := 0; r < 9; r++ {
		for c := 0; c < 9; c++ {
			piece := p.board[r][c]
			if piece.Empty() || piece.Side != by {
				continue
			}
			if containsSquare(Destinations(piece, Square{Row: r, Col: c}, &p.board), sq) {
				return true
			}
		}
	}
	return false
}

// InCheck reports whether side's king is attacked. A side without a king
// is not in check.
func (p *Position) InCheck(side Side) bool {
	king, ok := p.KingSquare(side)
	if !ok {
		return false
	}
	return p.Attacked(king, side.Opponent())
}

// CanPromote reports whether the board move m may promote: the piece is
// promotable, not yet promoted, and starts or ends in its promotion zone.
func (p *Position) CanPromote(m Move) bool {
	if m.IsDrop() {
		return false
	}
	piece := p.board.At(m.From)
	if piece.Empty() || piece.Promoted || !piece.Kind.Promotable() {
		return false
	}
	return InPromotionZone(piece.Side, m.From.Row) || InPromotionZone(piece.Side, m.To.Row)
}

// MustPromote reports whether the board move m would strand an
// unpromoted piece where it could never move again.
func (p *Position) MustPromote(m Move) bool {
	if m.IsDrop() {
		return false
	}
	piece := p.board.At(m.From)
	if piece.Empty() || piece.Promoted {
		return false
	}
	edge := ranksFromFarEdge(piece.Side, m.To.Row)
	switch piece.Kind {
	case Pawn, Lance:
		return edge == 0
	case Knight:
		return edge <= 1
	}
	return false
}

// Validate checks m for the side to move, including its promotion flag.
func (p *Position) Validate(m Move) error {
	if !p.IsLegal(p.turn, m) {
		return fmt.Errorf("%w: %s for %s", ErrIllegalMove, m.USI(), p.turn)
	}
	if m.IsDrop() {
		return nil
	}
	if m.Promote == PromoteYes && !p.CanPromote(m) {
		return fmt.Errorf("%w: %s", ErrCannotPromote, m.USI())
	}
	if m.Promote == PromoteNo && p.MustPromote(m) {
		return fmt.Errorf("%w: %s", ErrPromotionRequired, m.USI())
	}
	return nil
}

// Apply validates and plays m for the side to move and returns the captured
// piece. An unset promotion promotes only when it is mandatory.
func (p *Position) Apply(m Move) (Piece, error) {
	if err := p.Validate(m); err != nil {
		return Piece{}, err
	}
	promote := m.Promote == PromoteYes || p.MustPromote(m)
	captured := p.relocate(m, promote)
	p.turn = p.turn.Opponent()
	return captured, nil
}

// relocate moves or drops without validation and without changing the
// side to move. Captures go to the mover's hand demoted; kings do not.
func (p *Position) relocate(m Move, promote bool) Piece {
	side := p.turn
	if m.IsDrop() {
		p.hands[side][m.Drop]--
		p.board.set(m.To, Piece{Kind: m.Drop, Side: side})
		return Piece{}
	}
	piece := p.board.At(m.From)
	captured := p.board.At(m.To)
	if !captured.Empty() && captured.Kind != King {
		p.hands[side][captured.Kind]++
	}
	p.board.set(m.From, Piece{})
	if promote {
		piece.Promoted = true
	}
	p.board.set(m.To, piece)
	return captured
}

// Key identifies the position for repetition: board, both hands and side
// to move. Full-material positions use the packed encoding.
func (p *Position) Key() string {
	if packed, err := PackPosition(p); err == nil {
		return packed.String()
	}
	fields := strings.Fields(p.SFEN(1))
	return strings.Join(fields[:3], " ")
}
