package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"koma/pkg/shogi"
)

var (
	secondColor = color.New(color.FgRed)
	lastColor   = color.New(color.Bold, color.Underline)
	checkColor  = color.New(color.FgYellow, color.Bold)
)

// render draws the board from the first player's side with file 9 on the
// left, the second player's hand above and the first player's below.
// last, when non-nil, is the destination of the previous move.
func render(w io.Writer, pos *shogi.Position, last *shogi.Square) {
	fmt.Fprintf(w, "second hand: %s\n", handText(pos.Hand(shogi.Second)))
	fmt.Fprintln(w, "   9  8  7  6  5  4  3  2  1")
	fmt.Fprintln(w, "+---------------------------+")
	board := pos.Board()
	for row := 0; row < 9; row++ {
		var b strings.Builder
		b.WriteString("|")
		for col := 0; col < 9; col++ {
			sq := shogi.Square{Row: row, Col: col}
			b.WriteString(cell(board.At(sq), last != nil && *last == sq))
		}
		fmt.Fprintf(&b, "| %c", 'a'+row)
		fmt.Fprintln(w, b.String())
	}
	fmt.Fprintln(w, "+---------------------------+")
	fmt.Fprintf(w, "first hand:  %s\n", handText(pos.Hand(shogi.First)))
	turn := pos.Turn()
	if pos.InCheck(turn) {
		fmt.Fprintln(w, checkColor.Sprintf("%s to move (in check)", turn))
	} else {
		fmt.Fprintf(w, "%s to move\n", turn)
	}
}

func cell(p shogi.Piece, last bool) string {
	if p.Empty() {
		return "  ."
	}
	text := p.Kind.Letter()
	if p.Promoted {
		text = "+" + text
	}
	text = fmt.Sprintf("%3s", text)
	if p.Side == shogi.Second {
		text = secondColor.Sprint(text)
	}
	if last {
		text = lastColor.Sprint(text)
	}
	return text
}

func handText(h shogi.Hand) string {
	if h.Total() == 0 {
		return "-"
	}
	var parts []string
	for _, k := range shogi.HandKinds {
		switch n := h.Count(k); {
		case n > 1:
			parts = append(parts, fmt.Sprintf("%s%d", k.Letter(), n))
		case n == 1:
			parts = append(parts, k.Letter())
		}
	}
	return strings.Join(parts, " ")
}
