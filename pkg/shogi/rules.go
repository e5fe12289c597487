package shogi

type offset struct {
	dr int
	dc int
}

var kingSteps = []offset{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

var bishopRays = []offset{{-1, -1}, {-1, 1}, {1, -1}, {1, 1}}

var rookRays = []offset{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

func goldSteps(f int) []offset {
	return []offset{{f, -1}, {f, 0}, {f, 1}, {0, -1}, {0, 1}, {-f, 0}}
}

func silverSteps(f int) []offset {
	return []offset{{f, -1}, {f, 0}, {f, 1}, {-f, -1}, {-f, 1}}
}

func knightSteps(f int) []offset {
	return []offset{{2 * f, -1}, {2 * f, 1}}
}

// Destinations lists the squares p standing on from can reach on b.
// Sliding rays stop at the first occupied square and include it; whether
// that square can actually be captured is left to the caller.
func Destinations(p Piece, from Square, b *Board) []Square {
	if p.Empty() || !from.Valid() {
		return nil
	}
	f := p.Side.forward()
	var out []Square
	switch {
	case p.Kind == King:
		out = steps(out, from, kingSteps)
	case p.Kind == Gold:
		out = steps(out, from, goldSteps(f))
	case p.Promoted && (p.Kind == Silver || p.Kind == Knight || p.Kind == Lance || p.Kind == Pawn):
		out = steps(out, from, goldSteps(f))
	case p.Kind == Silver:
		out = steps(out, from, silverSteps(f))
	case p.Kind == Knight:
		out = steps(out, from, knightSteps(f))
	case p.Kind == Pawn:
		out = steps(out, from, []offset{{f, 0}})
	case p.Kind == Lance:
		out = slide(out, from, []offset{{f, 0}}, b)
	case p.Kind == Bishop:
		out = slide(out, from, bishopRays, b)
	case p.Kind == Rook:
		out = slide(out, from, rookRays, b)
	}
	if p.Promoted && (p.Kind == Bishop || p.Kind == Rook) {
		for _, sq := range steps(nil, from, kingSteps) {
			if !containsSquare(out, sq) {
				out = append(out, sq)
			}
		}
	}
	return out
}

func steps(out []Square, from Square, offs []offset) []Square {
	for _, o := range offs {
		sq := Square{Row: from.Row + o.dr, Col: from.Col + o.dc}
		if sq.Valid() {
			out = append(out, sq)
		}
	}
	return out
}

func slide(out []Square, from Square, rays []offset, b *Board) []Square {
	for _, o := range rays {
		sq := Square{Row: from.Row + o.dr, Col: from.Col + o.dc}
		for sq.Valid() {
			out = append(out, sq)
			if !b.At(sq).Empty() {
				break
			}
			sq = Square{Row: sq.Row + o.dr, Col: sq.Col + o.dc}
		}
	}
	return out
}

func containsSquare(list []Square, sq Square) bool {
	for _, s := range list {
		if s == sq {
			return true
		}
	}
	return false
}
