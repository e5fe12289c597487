package shogi

import (
	"fmt"
	"strings"
)

// Side is one of the two players. First moves first and starts on rows 6-8.
type Side uint8

const (
	First Side = iota
	Second
)

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == First {
		return Second
	}
	return First
}

func (s Side) String() string {
	if s == Second {
		return "second"
	}
	return "first"
}

// ParseSide accepts "first"/"second" and the b/w letters used by SFEN.
func ParseSide(text string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "first", "b", "sente", "black":
		return First, nil
	case "second", "w", "gote", "white":
		return Second, nil
	default:
		return First, fmt.Errorf("unknown side: %q", text)
	}
}

// forward is the row delta of one step toward the opponent.
func (s Side) forward() int {
	if s == First {
		return -1
	}
	return 1
}

// PieceKind is the unpromoted type of a piece. NoKind marks an empty square.
type PieceKind uint8

const (
	NoKind PieceKind = iota
	King
	Rook
	Bishop
	Gold
	Silver
	Knight
	Lance
	Pawn
)

const kindCount = 9

// HandKinds lists the kinds a hand can hold, in SFEN order.
var HandKinds = []PieceKind{Rook, Bishop, Gold, Silver, Knight, Lance, Pawn}

var kindLetters = [kindCount]byte{0, 'K', 'R', 'B', 'G', 'S', 'N', 'L', 'P'}

// Letter returns the upper-case SFEN letter of the kind.
func (k PieceKind) Letter() string {
	if k == NoKind || int(k) >= kindCount {
		return ""
	}
	return string(kindLetters[k])
}

func (k PieceKind) String() string {
	switch k {
	case King:
		return "king"
	case Rook:
		return "rook"
	case Bishop:
		return "bishop"
	case Gold:
		return "gold"
	case Silver:
		return "silver"
	case Knight:
		return "knight"
	case Lance:
		return "lance"
	case Pawn:
		return "pawn"
	default:
		return "none"
	}
}

// Promotable reports whether the kind has a promoted form.
func (k PieceKind) Promotable() bool {
	return k != NoKind && k != King && k != Gold
}

// KindFromLetter maps an SFEN letter (either case) to a kind.
func KindFromLetter(r rune) (PieceKind, bool) {
	if r >= 'a' && r <= 'z' {
		r -= 'a' - 'A'
	}
	for k := King; k <= Pawn; k++ {
		if rune(kindLetters[k]) == r {
			return k, true
		}
	}
	return NoKind, false
}

// Piece is a value stored on a board square. The zero Piece is an empty square.
type Piece struct {
	Kind     PieceKind
	Side     Side
	Promoted bool
}

// Empty reports whether p represents no piece.
func (p Piece) Empty() bool {
	return p.Kind == NoKind
}

// Demoted returns the piece as it enters a hand.
func (p Piece) Demoted() Piece {
	p.Promoted = false
	return p
}

// String returns the SFEN token: upper case for First, lower case for
// Second, "+" prefix when promoted. Empty squares render as "".
func (p Piece) String() string {
	if p.Empty() {
		return ""
	}
	text := p.Kind.Letter()
	if p.Side == Second {
		text = strings.ToLower(text)
	}
	if p.Promoted {
		text = "+" + text
	}
	return text
}

// ParsePiece parses an SFEN piece token such as "P", "+b" or "k".
func ParsePiece(token string) (Piece, error) {
	if token == "" {
		return Piece{}, nil
	}
	promoted := false
	if strings.HasPrefix(token, "+") {
		promoted = true
		token = token[1:]
	}
	if len(token) != 1 {
		return Piece{}, fmt.Errorf("invalid piece token: %q", token)
	}
	r := rune(token[0])
	kind, ok := KindFromLetter(r)
	if !ok {
		return Piece{}, fmt.Errorf("unknown piece %q", token)
	}
	side := First
	if r >= 'a' && r <= 'z' {
		side = Second
	}
	if promoted && !kind.Promotable() {
		return Piece{}, fmt.Errorf("%s cannot be promoted", kind)
	}
	return Piece{Kind: kind, Side: side, Promoted: promoted}, nil
}

// Square addresses a board cell. Row 0 is the rank furthest from First.
type Square struct {
	Row int
	Col int
}

// Valid reports whether the square is on the board.
func (s Square) Valid() bool {
	return s.Row >= 0 && s.Row < 9 && s.Col >= 0 && s.Col < 9
}

// File returns the shogi file number (1-9, right to left from First's view).
func (s Square) File() int {
	return 9 - s.Col
}

// Rank returns the shogi rank number (1-9).
func (s Square) Rank() int {
	return s.Row + 1
}

// String returns the USI square notation, e.g. "7g".
func (s Square) String() string {
	if !s.Valid() {
		return "??"
	}
	return fmt.Sprintf("%d%c", s.File(), 'a'+s.Row)
}

// SquareAt builds a square from file and rank numbers.
func SquareAt(file, rank int) Square {
	return Square{Row: rank - 1, Col: 9 - file}
}

// ParseSquare parses USI square notation.
func ParseSquare(text string) (Square, error) {
	if len(text) != 2 {
		return Square{}, fmt.Errorf("invalid square: %s", text)
	}
	file := int(text[0] - '0')
	if file < 1 || file > 9 {
		return Square{}, fmt.Errorf("invalid file: %s", text)
	}
	rank := int(text[1]-'a') + 1
	if rank < 1 || rank > 9 {
		return Square{}, fmt.Errorf("invalid rank: %s", text)
	}
	return SquareAt(file, rank), nil
}

// InPromotionZone reports whether row lies in side's promotion zone,
// the three ranks nearest the opponent.
func InPromotionZone(side Side, row int) bool {
	if side == First {
		return row >= 0 && row <= 2
	}
	return row >= 6 && row <= 8
}

// ranksFromFarEdge returns how many ranks separate row from the
// opponent's edge for side: 0 on the last rank.
func ranksFromFarEdge(side Side, row int) int {
	if side == First {
		return row
	}
	return 8 - row
}
