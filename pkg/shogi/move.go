package shogi

import (
	"fmt"
	"strings"
)

// Promotion is the promotion choice carried by a board move.
type Promotion uint8

const (
	// PromoteUnset leaves the choice to the game: computers promote,
	// humans are asked.
	PromoteUnset Promotion = iota
	PromoteNo
	PromoteYes
)

func (p Promotion) String() string {
	switch p {
	case PromoteNo:
		return "no"
	case PromoteYes:
		return "yes"
	default:
		return "unset"
	}
}

// PromotionOf converts an explicit choice.
func PromotionOf(promote bool) Promotion {
	if promote {
		return PromoteYes
	}
	return PromoteNo
}

// Move is either a board move (Drop == NoKind) or a drop from hand.
type Move struct {
	From    Square
	To      Square
	Drop    PieceKind
	Promote Promotion
}

// NewMove builds a board move.
func NewMove(from, to Square, promote Promotion) Move {
	return Move{From: from, To: to, Promote: promote}
}

// NewDrop builds a drop.
func NewDrop(kind PieceKind, to Square) Move {
	return Move{To: to, Drop: kind}
}

// IsDrop reports whether m places a piece from hand.
func (m Move) IsDrop() bool {
	return m.Drop != NoKind
}

// SameAction reports whether m and o move the same piece to the same
// square, regardless of the promotion choice.
func (m Move) SameAction(o Move) bool {
	if m.IsDrop() || o.IsDrop() {
		return m.Drop == o.Drop && m.To == o.To
	}
	return m.From == o.From && m.To == o.To
}

// USI renders m in USI notation: "7g7f", "8h2b+", "P*5e".
func (m Move) USI() string {
	if m.IsDrop() {
		return fmt.Sprintf("%s*%s", m.Drop.Letter(), m.To)
	}
	text := m.From.String() + m.To.String()
	if m.Promote == PromoteYes {
		text += "+"
	}
	return text
}

func (m Move) String() string {
	return m.USI()
}

// ParseUSIMove parses USI move notation. A board move without "+" is an
// explicit decision not to promote.
func ParseUSIMove(move string) (Move, error) {
	move = strings.TrimSpace(move)
	if strings.Contains(move, "*") {
		parts := strings.SplitN(move, "*", 2)
		if len(parts) != 2 || len(parts[0]) != 1 {
			return Move{}, fmt.Errorf("invalid drop move: %s", move)
		}
		kind, ok := KindFromLetter(rune(parts[0][0]))
		if !ok || kind == King {
			return Move{}, fmt.Errorf("invalid drop piece: %s", move)
		}
		to, err := ParseSquare(parts[1])
		if err != nil {
			return Move{}, err
		}
		return NewDrop(kind, to), nil
	}
	if len(move) < 4 {
		return Move{}, fmt.Errorf("invalid move: %s", move)
	}
	from, err := ParseSquare(move[0:2])
	if err != nil {
		return Move{}, err
	}
	to, err := ParseSquare(move[2:4])
	if err != nil {
		return Move{}, err
	}
	promote := PromoteNo
	if len(move) > 4 {
		if len(move) != 5 || move[4] != '+' {
			return Move{}, fmt.Errorf("invalid promotion marker: %s", move)
		}
		promote = PromoteYes
	}
	return NewMove(from, to, promote), nil
}
