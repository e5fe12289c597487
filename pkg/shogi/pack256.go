package shogi

import "fmt"

// Packed256 is a Huffman-coded position that fits exactly 256 bits when all
// forty pieces are on the board or in hand.
type Packed256 struct {
	Words [4]uint64
}

// String renders the packed words as hex.
func (p Packed256) String() string {
	return fmt.Sprintf("%016x%016x%016x%016x", p.Words[0], p.Words[1], p.Words[2], p.Words[3])
}

type bitWriter256 struct {
	words [4]uint64
	pos   int
}

type bitReader256 struct {
	words [4]uint64
	pos   int
}

type huffCode struct {
	kind   PieceKind
	bits   uint64
	bitLen int
}

// Board codes; NoKind is the empty square.
var boardCodes = []huffCode{
	{kind: NoKind, bits: 0b0, bitLen: 1},
	{kind: Pawn, bits: 0b01, bitLen: 2},
	{kind: Lance, bits: 0b0011, bitLen: 4},
	{kind: Knight, bits: 0b1011, bitLen: 4},
	{kind: Silver, bits: 0b0111, bitLen: 4},
	{kind: Gold, bits: 0b01111, bitLen: 5},
	{kind: Bishop, bits: 0b011111, bitLen: 6},
	{kind: Rook, bits: 0b111111, bitLen: 6},
}

var handCodes = []huffCode{
	{kind: Pawn, bits: 0b0, bitLen: 1},
	{kind: Lance, bits: 0b001, bitLen: 3},
	{kind: Knight, bits: 0b101, bitLen: 3},
	{kind: Silver, bits: 0b011, bitLen: 3},
	{kind: Gold, bits: 0b0111, bitLen: 4},
	{kind: Bishop, bits: 0b01111, bitLen: 5},
	{kind: Rook, bits: 0b11111, bitLen: 5},
}

var packHandOrder = []PieceKind{Pawn, Lance, Knight, Silver, Gold, Bishop, Rook}

// PackPosition encodes p. It fails unless both kings are present and the
// material adds up to a full set.
func PackPosition(p *Position) (Packed256, error) {
	w := &bitWriter256{}

	if err := w.writeSide(p.turn); err != nil {
		return Packed256{}, err
	}
	firstKing, secondKing, err := kingIndexes(p)
	if err != nil {
		return Packed256{}, err
	}
	if err := w.writeBits(uint64(firstKing), 7); err != nil {
		return Packed256{}, err
	}
	if err := w.writeBits(uint64(secondKing), 7); err != nil {
		return Packed256{}, err
	}

	for idx := 0; idx < 81; idx++ {
		if idx == firstKing || idx == secondKing {
			continue
		}
		piece := p.board[idx/9][idx%9]
		if piece.Kind == King {
			return Packed256{}, fmt.Errorf("unexpected king at square %d", idx)
		}
		if err := w.writeCode(boardCodes, piece.Kind); err != nil {
			return Packed256{}, err
		}
		if piece.Empty() {
			continue
		}
		if err := w.writeSide(piece.Side); err != nil {
			return Packed256{}, err
		}
		if piece.Kind.Promotable() {
			if err := w.writeBool(piece.Promoted); err != nil {
				return Packed256{}, err
			}
		}
	}

	for _, side := range []Side{First, Second} {
		for _, kind := range packHandOrder {
			for i := 0; i < p.hands[side][kind]; i++ {
				if err := w.writeCode(handCodes, kind); err != nil {
					return Packed256{}, err
				}
				if err := w.writeSide(side); err != nil {
					return Packed256{}, err
				}
				if kind.Promotable() {
					if err := w.writeBool(false); err != nil {
						return Packed256{}, err
					}
				}
			}
		}
	}

	if w.pos != 256 {
		return Packed256{}, fmt.Errorf("packed length is %d bits, expected 256", w.pos)
	}
	return Packed256{Words: w.words}, nil
}

// UnpackPosition decodes a position produced by PackPosition.
func UnpackPosition(packed Packed256) (*Position, error) {
	r := &bitReader256{words: packed.Words}

	turn, err := r.readSide()
	if err != nil {
		return nil, err
	}
	firstKing, err := r.readBits(7)
	if err != nil {
		return nil, err
	}
	secondKing, err := r.readBits(7)
	if err != nil {
		return nil, err
	}
	if firstKing == secondKing || firstKing > 80 || secondKing > 80 {
		return nil, fmt.Errorf("invalid king squares %d/%d", firstKing, secondKing)
	}

	pos := &Position{turn: turn}
	pos.board[firstKing/9][firstKing%9] = Piece{Kind: King, Side: First}
	pos.board[secondKing/9][secondKing%9] = Piece{Kind: King, Side: Second}

	for idx := 0; idx < 81; idx++ {
		if idx == int(firstKing) || idx == int(secondKing) {
			continue
		}
		kind, err := r.readCode(boardCodes)
		if err != nil {
			return nil, err
		}
		if kind == NoKind {
			continue
		}
		side, err := r.readSide()
		if err != nil {
			return nil, err
		}
		promoted := false
		if kind.Promotable() {
			bit, err := r.readBit()
			if err != nil {
				return nil, err
			}
			promoted = bit == 1
		}
		pos.board[idx/9][idx%9] = Piece{Kind: kind, Side: side, Promoted: promoted}
	}

	for r.pos < 256 {
		kind, err := r.readCode(handCodes)
		if err != nil {
			return nil, err
		}
		side, err := r.readSide()
		if err != nil {
			return nil, err
		}
		if kind.Promotable() {
			bit, err := r.readBit()
			if err != nil {
				return nil, err
			}
			if bit != 0 {
				return nil, fmt.Errorf("promoted %s in hand", kind)
			}
		}
		pos.hands[side][kind]++
	}
	return pos, nil
}

func (w *bitWriter256) writeBit(bit uint64) error {
	if w.pos >= 256 {
		return fmt.Errorf("bitstream overflow")
	}
	if bit != 0 {
		w.words[w.pos/64] |= 1 << uint(w.pos%64)
	}
	w.pos++
	return nil
}

func (w *bitWriter256) writeBits(value uint64, bitLen int) error {
	for i := 0; i < bitLen; i++ {
		if err := w.writeBit((value >> i) & 1); err != nil {
			return err
		}
	}
	return nil
}

func (w *bitWriter256) writeBool(v bool) error {
	if v {
		return w.writeBit(1)
	}
	return w.writeBit(0)
}

func (w *bitWriter256) writeSide(side Side) error {
	return w.writeBool(side == Second)
}

func (w *bitWriter256) writeCode(codes []huffCode, kind PieceKind) error {
	for _, code := range codes {
		if code.kind == kind {
			return w.writeBits(code.bits, code.bitLen)
		}
	}
	return fmt.Errorf("no code for %s", kind)
}

func (r *bitReader256) readBit() (uint64, error) {
	if r.pos >= 256 {
		return 0, fmt.Errorf("bitstream underflow")
	}
	bit := (r.words[r.pos/64] >> uint(r.pos%64)) & 1
	r.pos++
	return bit, nil
}

func (r *bitReader256) readBits(bitLen int) (uint64, error) {
	var value uint64
	for i := 0; i < bitLen; i++ {
		bit, err := r.readBit()
		if err != nil {
			return 0, err
		}
		value |= bit << i
	}
	return value, nil
}

func (r *bitReader256) readSide() (Side, error) {
	bit, err := r.readBit()
	if err != nil {
		return First, err
	}
	if bit == 1 {
		return Second, nil
	}
	return First, nil
}

func (r *bitReader256) readCode(codes []huffCode) (PieceKind, error) {
	var value uint64
	for length := 1; length <= 6; length++ {
		bit, err := r.readBit()
		if err != nil {
			return NoKind, err
		}
		value |= bit << (length - 1)
		for _, code := range codes {
			if code.bitLen == length && code.bits == value {
				return code.kind, nil
			}
		}
	}
	return NoKind, fmt.Errorf("invalid code")
}

func kingIndexes(p *Position) (int, int, error) {
	first, second := -1, -1
	for idx := 0; idx < 81; idx++ {
		piece := p.board[idx/9][idx%9]
		if piece.Kind != King {
			continue
		}
		if piece.Side == First {
			if first != -1 {
				return 0, 0, fmt.Errorf("multiple first kings")
			}
			first = idx
		} else {
			if second != -1 {
				return 0, 0, fmt.Errorf("multiple second kings")
			}
			second = idx
		}
	}
	if first == -1 || second == -1 {
		return 0, 0, fmt.Errorf("missing king")
	}
	return first, second, nil
}
