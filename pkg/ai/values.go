package ai

import "koma/pkg/shogi"

var baseValues = map[shogi.PieceKind]float64{
	shogi.King:   10000,
	shogi.Rook:   500,
	shogi.Bishop: 400,
	shogi.Gold:   300,
	shogi.Silver: 200,
	shogi.Knight: 150,
	shogi.Lance:  150,
	shogi.Pawn:   100,
}

var promotedValues = map[shogi.PieceKind]float64{
	shogi.Rook:   600,
	shogi.Bishop: 550,
	shogi.Silver: 250,
	shogi.Knight: 200,
	shogi.Lance:  200,
	shogi.Pawn:   150,
}

// Value is the material value of p; promoted pieces are worth more.
func Value(p shogi.Piece) float64 {
	if p.Promoted {
		if v, ok := promotedValues[p.Kind]; ok {
			return v
		}
	}
	return baseValues[p.Kind]
}
