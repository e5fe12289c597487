package shogi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// RecordVersion is written into exported game records.
const RecordVersion = 1

// Record is the persisted JSON form of a game.
type Record struct {
	Version      int           `json:"version"`
	Timestamp    string        `json:"timestamp"`
	Winner       *string       `json:"winner"`
	Moves        []RecordMove  `json:"moves"`
	InitialBoard *[9][9]string `json:"initialBoard,omitempty"`
	InitialHands *RecordHands  `json:"initialHands,omitempty"`
	InitialTurn  string        `json:"initialTurn,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	// Cursor is the number of moves played; later moves are a redo tail.
	Cursor       *int          `json:"cursor,omitempty"`
}

// RecordMove is one ply of a Record.
type RecordMove struct {
	Type                 string      `json:"type"`
	FromRow              *int        `json:"fromRow,omitempty"`
	FromCol              *int        `json:"fromCol,omitempty"`
	ToRow                int         `json:"toRow"`
	ToCol                int         `json:"toCol"`
	Piece                string      `json:"piece"`
	Promoted             bool        `json:"promoted"`
	Captured             string      `json:"captured,omitempty"`
	Turn                 string      `json:"turn"`
	CapturedPiecesBefore RecordHands `json:"capturedPiecesBefore"`
}

// RecordHands lists each side's hand as piece tokens.
type RecordHands struct {
	First  []string `json:"first"`
	Second []string `json:"second"`
}

func handsToRecord(hands [2]Hand) RecordHands {
	out := RecordHands{First: []string{}, Second: []string{}}
	for _, kind := range hands[First].Kinds() {
		out.First = append(out.First, Piece{Kind: kind, Side: First}.String())
	}
	for _, kind := range hands[Second].Kinds() {
		out.Second = append(out.Second, Piece{Kind: kind, Side: Second}.String())
	}
	return out
}

func handsFromRecord(rh RecordHands) ([2]Hand, error) {
	var hands [2]Hand
	for side, tokens := range [][]string{rh.First, rh.Second} {
		for _, token := range tokens {
			piece, err := ParsePiece(token)
			if err != nil {
				return hands, err
			}
			if piece.Empty() || piece.Kind == King || piece.Promoted {
				return hands, fmt.Errorf("invalid hand piece %q", token)
			}
			hands[side][piece.Kind]++
		}
	}
	return hands, nil
}

// Record exports the game's full history. Winner and Reason describe the
// position at the cursor, which is recorded when moves follow it.
func (g *Game) Record(now time.Time) Record {
	rec := Record{
		Version:   RecordVersion,
		Timestamp: now.UTC().Format(time.RFC3339),
		Moves:     make([]RecordMove, 0, len(g.history)),
	}
	if side, ok := g.Winner(); ok {
		name := side.String()
		rec.Winner = &name
	}
	rec.Reason = g.reason.String()

	var board [9][9]string
	for r := 0; r < 9; r++ {
		for c := 0; c < 9; c++ {
			board[r][c] = g.initial.board[r][c].String()
		}
	}
	rec.InitialBoard = &board
	if g.initial.hands[First].Total()+g.initial.hands[Second].Total() > 0 {
		hands := handsToRecord(g.initial.hands)
		rec.InitialHands = &hands
	}
	rec.InitialTurn = g.initial.turn.String()
	if g.cursor < len(g.history) {
		cursor := g.cursor
		rec.Cursor = &cursor
	}

	for _, mr := range g.history {
		rm := RecordMove{
			Type:                 "move",
			ToRow:                mr.Move.To.Row,
			ToCol:                mr.Move.To.Col,
			Piece:                mr.Piece.String(),
			Promoted:             mr.Promoted,
			Captured:             mr.Captured.String(),
			Turn:                 mr.Side.String(),
			CapturedPiecesBefore: handsToRecord(mr.HandsBefore),
		}
		if mr.Move.IsDrop() {
			rm.Type = "drop"
		} else {
			fromRow, fromCol := mr.Move.From.Row, mr.Move.From.Col
			rm.FromRow = &fromRow
			rm.FromCol = &fromCol
		}
		rec.Moves = append(rec.Moves, rm)
	}
	return rec
}

// WriteRecord encodes the game as indented JSON.
func WriteRecord(w io.Writer, g *Game, now time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(g.Record(now))
}

// ReadRecord decodes a JSON game record and replays it. Nothing is
// returned unless every move replays legally.
func ReadRecord(r io.Reader) (*Game, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseRecord(data)
}

// ParseRecord is ReadRecord over a byte slice.
func ParseRecord(data []byte) (*Game, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	moves, ok := raw["moves"]
	if !ok {
		return nil, fmt.Errorf("%w: moves is missing", ErrMalformedRecord)
	}
	if trimmed := bytes.TrimSpace(moves); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: moves is not an array", ErrMalformedRecord)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return rec.Replay()
}

// Replay rebuilds a game from the record's initial board and moves, then
// steps back to the recorded cursor. Embedded hand snapshots are not trusted.
func (rec Record) Replay() (*Game, error) {
	start := InitialPosition()
	if rec.InitialBoard != nil {
		start = NewPosition()
		for r := 0; r < 9; r++ {
			for c := 0; c < 9; c++ {
				piece, err := ParsePiece(rec.InitialBoard[r][c])
				if err != nil {
					return nil, fmt.Errorf("%w: initial board %d,%d: %v", ErrMalformedRecord, r, c, err)
				}
				start.board[r][c] = piece
			}
		}
	}
	if rec.InitialHands != nil {
		hands, err := handsFromRecord(*rec.InitialHands)
		if err != nil {
			return nil, fmt.Errorf("%w: initial hands: %v", ErrMalformedRecord, err)
		}
		start.hands = hands
	}
	if rec.InitialTurn != "" {
		side, err := ParseSide(rec.InitialTurn)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		start.turn = side
	}

	g := NewGameFrom(start)
	for i, rm := range rec.Moves {
		m, err := rm.move()
		if err != nil {
			return nil, fmt.Errorf("%w: move %d: %v", ErrMalformedRecord, i+1, err)
		}
		if err := g.Apply(m); err != nil {
			return nil, fmt.Errorf("move %d: %w", i+1, err)
		}
	}
	if rec.Cursor != nil {
		if *rec.Cursor < 0 || *rec.Cursor > len(rec.Moves) {
			return nil, fmt.Errorf("%w: cursor %d out of range", ErrMalformedRecord, *rec.Cursor)
		}
		if err := g.GoTo(*rec.Cursor); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (rm RecordMove) move() (Move, error) {
	to := Square{Row: rm.ToRow, Col: rm.ToCol}
	if !to.Valid() {
		return Move{}, fmt.Errorf("destination %d,%d off board", rm.ToRow, rm.ToCol)
	}
	switch rm.Type {
	case "drop":
		piece, err := ParsePiece(rm.Piece)
		if err != nil {
			return Move{}, err
		}
		if piece.Empty() {
			return Move{}, fmt.Errorf("drop without piece")
		}
		return NewDrop(piece.Kind, to), nil
	case "move":
		if rm.FromRow == nil || rm.FromCol == nil {
			return Move{}, fmt.Errorf("board move without origin")
		}
		from := Square{Row: *rm.FromRow, Col: *rm.FromCol}
		if !from.Valid() {
			return Move{}, fmt.Errorf("origin %d,%d off board", from.Row, from.Col)
		}
		return NewMove(from, to, PromotionOf(rm.Promoted)), nil
	default:
		return Move{}, fmt.Errorf("unknown move type %q", rm.Type)
	}
}
