package shogi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParseSFEN parses an SFEN position. The returned int is the move number
// field, 1 when absent.
func ParseSFEN(sfen string) (*Position, int, error) {
	fields := strings.Fields(sfen)
	if len(fields) > 0 && fields[0] == "sfen" {
		fields = fields[1:]
	}
	if len(fields) < 3 {
		return nil, 0, fmt.Errorf("invalid sfen: %s", sfen)
	}
	pos := &Position{}
	switch fields[1] {
	case "b":
		pos.turn = First
	case "w":
		pos.turn = Second
	default:
		return nil, 0, fmt.Errorf("invalid side to move: %s", fields[1])
	}
	if err := parseBoardSFEN(fields[0], pos); err != nil {
		return nil, 0, err
	}
	if err := parseHandsSFEN(fields[2], pos); err != nil {
		return nil, 0, err
	}
	moveNumber := 1
	if len(fields) >= 4 {
		n, err := strconv.Atoi(fields[3])
		if err != nil || n < 1 {
			return nil, 0, fmt.Errorf("invalid move number: %s", fields[3])
		}
		moveNumber = n
	}
	return pos, moveNumber, nil
}

func parseBoardSFEN(board string, pos *Position) error {
	ranks := strings.Split(board, "/")
	if len(ranks) != 9 {
		return fmt.Errorf("invalid board ranks: %d", len(ranks))
	}
	for row, rankText := range ranks {
		col := 0
		for i := 0; i < len(rankText); i++ {
			ch := rankText[i]
			if ch >= '1' && ch <= '9' {
				col += int(ch - '0')
				continue
			}
			token := string(ch)
			if ch == '+' {
				i++
				if i >= len(rankText) {
					return errors.New("dangling promotion marker")
				}
				token = "+" + string(rankText[i])
			}
			piece, err := ParsePiece(token)
			if err != nil {
				return err
			}
			if col > 8 {
				return fmt.Errorf("rank %d has too many files", row+1)
			}
			pos.board[row][col] = piece
			col++
		}
		if col != 9 {
			return fmt.Errorf("rank %d does not have 9 files", row+1)
		}
	}
	return nil
}

func parseHandsSFEN(hand string, pos *Position) error {
	if hand == "-" {
		return nil
	}
	count := 0
	for _, r := range hand {
		if r >= '0' && r <= '9' {
			count = count*10 + int(r-'0')
			continue
		}
		if count == 0 {
			count = 1
		}
		kind, ok := KindFromLetter(r)
		if !ok || kind == King {
			return fmt.Errorf("unknown hand piece %c", r)
		}
		side := First
		if r >= 'a' && r <= 'z' {
			side = Second
		}
		pos.hands[side][kind] += count
		count = 0
	}
	if count != 0 {
		return errors.New("trailing hand count")
	}
	return nil
}

// SFEN renders the position with the given move number.
func (p *Position) SFEN(moveNumber int) string {
	rows := make([]string, 0, 9)
	for row := 0; row < 9; row++ {
		rows = append(rows, p.rowToSFEN(row))
	}
	turn := "b"
	if p.turn == Second {
		turn = "w"
	}
	hand := buildHands(p.hands[First], p.hands[Second])
	if hand == "" {
		hand = "-"
	}
	return fmt.Sprintf("%s %s %s %d", strings.Join(rows, "/"), turn, hand, moveNumber)
}

func (p *Position) rowToSFEN(row int) string {
	var b strings.Builder
	empty := 0
	for col := 0; col < 9; col++ {
		piece := p.board[row][col]
		if piece.Empty() {
			empty++
			continue
		}
		if empty > 0 {
			b.WriteString(strconv.Itoa(empty))
			empty = 0
		}
		b.WriteString(piece.String())
	}
	if empty > 0 {
		b.WriteString(strconv.Itoa(empty))
	}
	return b.String()
}

func buildHands(first, second Hand) string {
	var b strings.Builder
	for _, side := range []Side{First, Second} {
		hand := first
		if side == Second {
			hand = second
		}
		for _, kind := range HandKinds {
			count := hand[kind]
			if count == 0 {
				continue
			}
			if count > 1 {
				b.WriteString(strconv.Itoa(count))
			}
			b.WriteString(Piece{Kind: kind, Side: side}.String())
		}
	}
	return b.String()
}
