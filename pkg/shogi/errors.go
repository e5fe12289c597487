package shogi

import "errors"

var (
	ErrIllegalMove        = errors.New("illegal move")
	ErrGameOver           = errors.New("game is over")
	ErrPromotionPending   = errors.New("promotion choice pending")
	ErrNoPendingPromotion = errors.New("no promotion pending")
	ErrPromotionRequired  = errors.New("piece must promote")
	ErrCannotPromote      = errors.New("piece cannot promote")
	ErrHistoryIndex       = errors.New("history index out of range")
	ErrMalformedRecord    = errors.New("malformed game record")
)
