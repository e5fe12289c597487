package shogi_test

import (
	"errors"
	"strings"
	"testing"

	"koma/pkg/shogi"
)

var aigakariSFENs = []string{
	"lnsgkgsnl/1r5b1/ppppppppp/9/9/9/PPPPPPPPP/1B5R1/LNSGKGSNL b - 1",
	"lnsgkgsnl/1r5b1/ppppppppp/9/9/7P1/PPPPPPP1P/1B5R1/LNSGKGSNL w - 2",
	"lnsgkgsnl/1r5b1/p1ppppppp/1p7/9/7P1/PPPPPPP1P/1B5R1/LNSGKGSNL b - 3",
	"lnsgkgsnl/1r5b1/p1ppppppp/1p7/7P1/9/PPPPPPP1P/1B5R1/LNSGKGSNL w - 4",
	"lnsgkgsnl/1r5b1/p1ppppppp/9/1p5P1/9/PPPPPPP1P/1B5R1/LNSGKGSNL b - 5",
	"lnsgkgsnl/1r5b1/p1ppppppp/9/1p5P1/9/PPPPPPP1P/1BG4R1/LNS1KGSNL w - 6",
	"lnsgk1snl/1r4gb1/p1ppppppp/9/1p5P1/9/PPPPPPP1P/1BG4R1/LNS1KGSNL b - 7",
	"lnsgk1snl/1r4gb1/p1ppppppp/7P1/1p7/9/PPPPPPP1P/1BG4R1/LNS1KGSNL w - 8",
	"lnsgk1snl/1r4gb1/p1ppppp1p/7p1/1p7/9/PPPPPPP1P/1BG4R1/LNS1KGSNL b p 9",
	"lnsgk1snl/1r4gb1/p1ppppp1p/7R1/1p7/9/PPPPPPP1P/1BG6/LNS1KGSNL w Pp 10",
	"lnsg2snl/1r2k1gb1/p1ppppp1p/7R1/1p7/9/PPPPPPP1P/1BG6/LNS1KGSNL b Pp 11",
	"lnsg2snl/1r2k1g+R1/p1ppppp1p/9/1p7/9/PPPPPPP1P/1BG6/LNS1KGSNL w BPp 12",
	"lnsg3nl/1r2k1gs1/p1ppppp1p/9/1p7/9/PPPPPPP1P/1BG6/LNS1KGSNL b BPrp 13",
}

func mustSFEN(t *testing.T, sfen string) *shogi.Position {
	t.Helper()
	pos, _, err := shogi.ParseSFEN(sfen)
	if err != nil {
		t.Fatalf("parse sfen %q: %v", sfen, err)
	}
	return pos
}

// TestSFEN_RoundTrip verifies parse then render reproduces the text.
func TestSFEN_RoundTrip(t *testing.T) {
	for _, want := range aigakariSFENs {
		pos, n, err := shogi.ParseSFEN("sfen " + want)
		if err != nil {
			t.Fatalf("parse %s: %v", want, err)
		}
		if got := pos.SFEN(n); got != want {
			t.Fatalf("round trip: got %s want %s", got, want)
		}
	}
}

// TestSFEN_RejectsMalformed covers the common input mistakes.
func TestSFEN_RejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"lnsgkgsnl/1r5b1/ppppppppp/9/9/9/PPPPPPPPP/1B5R1 b - 1",
		"lnsgkgsnl/1r5b1/ppppppppp/9/9/9/PPPPPPPPP/1B5R1/LNSGKGSNL x - 1",
		"lnsgkgsnl/1r5b1/ppppppppp/9/9/9/PPPPPPPPP/1B5R1/LNSGKGSNLL b - 1",
		"lnsgkgsnl/1r5b1/ppppppppp/9/9/9/PPPPPPPPP/1B5R1/LNSGKGSNL b K 1",
		"lnsgkgsnl/1r5b1/ppppppppp/9/9/9/PPPPPPPPP/1B5R1/LNSGKGSN+ b - 1",
	}
	for _, sfen := range bad {
		if _, _, err := shogi.ParseSFEN(sfen); err == nil {
			t.Fatalf("expected error for %q", sfen)
		}
	}
}

// TestPack256_RoundTrip verifies packing preserves the position.
func TestPack256_RoundTrip(t *testing.T) {
	for i, want := range aigakariSFENs {
		pos := mustSFEN(t, want)
		packed, err := shogi.PackPosition(pos)
		if err != nil {
			t.Fatalf("pack %d: %v", i, err)
		}
		unpacked, err := shogi.UnpackPosition(packed)
		if err != nil {
			t.Fatalf("unpack %d: %v", i, err)
		}
		if got := unpacked.SFEN(i + 1); got != want {
			t.Fatalf("pack round trip %d: got %s want %s", i, got, want)
		}
	}
}

// TestPack256_RequiresFullMaterial verifies partial positions are refused.
func TestPack256_RequiresFullMaterial(t *testing.T) {
	pos := shogi.NewPosition()
	pos.SetPiece(5, 9, shogi.King, shogi.First, false)
	pos.SetPiece(5, 1, shogi.King, shogi.Second, false)
	if _, err := shogi.PackPosition(pos); err == nil {
		t.Fatal("pack should fail without full material")
	}
}

// TestKey_FallsBackToSFEN verifies the key format for each material case.
func TestKey_FallsBackToSFEN(t *testing.T) {
	full := shogi.InitialPosition().Key()
	if len(full) != 64 {
		t.Fatalf("full material key should be 64 hex chars, got %q", full)
	}
	pos := shogi.NewPosition()
	pos.SetPiece(5, 9, shogi.King, shogi.First, false)
	pos.SetPiece(5, 1, shogi.King, shogi.Second, false)
	pos.AddToHand(shogi.First, shogi.Gold, 1)
	want := "4k4/9/9/9/9/9/9/9/4K4 b G"
	if got := pos.Key(); got != want {
		t.Fatalf("key: got %q want %q", got, want)
	}
	pos.SetTurn(shogi.Second)
	if pos.Key() == want {
		t.Fatal("key must include the side to move")
	}
}

// TestClone_Independent verifies a clone does not share state.
func TestClone_Independent(t *testing.T) {
	pos := shogi.InitialPosition()
	clone := pos.Clone()
	if _, err := clone.Apply(shogi.NewMove(sq(t, "7g"), sq(t, "7f"), shogi.PromoteUnset)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	clone.AddToHand(shogi.First, shogi.Pawn, 1)
	if pos.SFEN(1) != shogi.StandardSFEN {
		t.Fatalf("original changed: %s", pos.SFEN(1))
	}
}

// TestInCheck_NoCheckInitially verifies neither king starts in check.
func TestInCheck_NoCheckInitially(t *testing.T) {
	pos := shogi.InitialPosition()
	if pos.InCheck(shogi.First) || pos.InCheck(shogi.Second) {
		t.Fatal("no king should be in check in the initial position")
	}
}

// TestInCheck_Attackers verifies check detection for several attackers.
func TestInCheck_Attackers(t *testing.T) {
	cases := []struct {
		name     string
		kingFile int
		kingRank int
		kind     shogi.PieceKind
		promoted bool
		file     int
		rank     int
		blocker  bool
		want     bool
	}{
		{name: "rook on file", kingFile: 5, kingRank: 1, kind: shogi.Rook, file: 5, rank: 9, want: true},
		{name: "rook blocked", kingFile: 5, kingRank: 1, kind: shogi.Rook, file: 5, rank: 9, blocker: true, want: false},
		{name: "bishop diagonal", kingFile: 5, kingRank: 5, kind: shogi.Bishop, file: 1, rank: 1, want: true},
		{name: "gold below", kingFile: 5, kingRank: 5, kind: shogi.Gold, file: 5, rank: 6, want: true},
		{name: "silver diagonal", kingFile: 5, kingRank: 5, kind: shogi.Silver, file: 4, rank: 6, want: true},
		{name: "silver sideways", kingFile: 5, kingRank: 5, kind: shogi.Silver, file: 4, rank: 5, want: false},
		{name: "knight jump", kingFile: 5, kingRank: 5, kind: shogi.Knight, file: 4, rank: 7, want: true},
		{name: "knight straight", kingFile: 5, kingRank: 5, kind: shogi.Knight, file: 5, rank: 7, want: false},
		{name: "pawn ahead", kingFile: 5, kingRank: 5, kind: shogi.Pawn, file: 5, rank: 6, want: true},
		{name: "horse step", kingFile: 5, kingRank: 5, kind: shogi.Bishop, promoted: true, file: 5, rank: 6, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos := shogi.NewPosition()
			pos.SetPiece(tc.kingFile, tc.kingRank, shogi.King, shogi.Second, false)
			pos.SetPiece(9, 9, shogi.King, shogi.First, false)
			pos.SetPiece(tc.file, tc.rank, tc.kind, shogi.First, tc.promoted)
			if tc.blocker {
				pos.SetPiece(5, 5, shogi.Pawn, shogi.First, false)
			}
			if got := pos.InCheck(shogi.Second); got != tc.want {
				t.Fatalf("in check: got %v want %v", got, tc.want)
			}
		})
	}
}

// TestApply_CaptureGoesToHandDemoted verifies captured pieces lose promotion.
func TestApply_CaptureGoesToHandDemoted(t *testing.T) {
	pos := shogi.NewPosition()
	pos.SetPiece(5, 9, shogi.King, shogi.First, false)
	pos.SetPiece(5, 1, shogi.King, shogi.Second, false)
	pos.SetPiece(2, 5, shogi.Rook, shogi.First, false)
	pos.SetPiece(2, 3, shogi.Silver, shogi.Second, true)

	captured, err := pos.Apply(shogi.NewMove(sq(t, "2e"), sq(t, "2c"), shogi.PromoteNo))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if captured.Kind != shogi.Silver || !captured.Promoted {
		t.Fatalf("captured: got %v", captured)
	}
	if got := pos.Hand(shogi.First).Count(shogi.Silver); got != 1 {
		t.Fatalf("silver in hand: got %d want 1", got)
	}
	if pos.Turn() != shogi.Second {
		t.Fatal("turn should pass to second")
	}
}

// TestValidate_PromotionFlags verifies mandatory and impossible promotions.
func TestValidate_PromotionFlags(t *testing.T) {
	pos := shogi.NewPosition()
	pos.SetPiece(5, 9, shogi.King, shogi.First, false)
	pos.SetPiece(5, 1, shogi.King, shogi.Second, false)
	pos.SetPiece(1, 2, shogi.Pawn, shogi.First, false)
	pos.SetPiece(9, 7, shogi.Pawn, shogi.First, false)
	pos.SetPiece(3, 3, shogi.Knight, shogi.First, false)

	if err := pos.Validate(shogi.NewMove(sq(t, "1b"), sq(t, "1a"), shogi.PromoteNo)); !errors.Is(err, shogi.ErrPromotionRequired) {
		t.Fatalf("pawn to last rank without promotion: got %v", err)
	}
	if err := pos.Validate(shogi.NewMove(sq(t, "9g"), sq(t, "9f"), shogi.PromoteYes)); !errors.Is(err, shogi.ErrCannotPromote) {
		t.Fatalf("promotion outside zone: got %v", err)
	}
	if err := pos.Validate(shogi.NewMove(sq(t, "9g"), sq(t, "9e"), shogi.PromoteUnset)); !errors.Is(err, shogi.ErrIllegalMove) {
		t.Fatalf("two-square pawn push: got %v", err)
	}
	if !pos.MustPromote(shogi.NewMove(sq(t, "3c"), sq(t, "2a"), shogi.PromoteUnset)) {
		t.Fatal("knight to last rank must promote")
	}

	captured, err := pos.Apply(shogi.NewMove(sq(t, "1b"), sq(t, "1a"), shogi.PromoteUnset))
	if err != nil || !captured.Empty() {
		t.Fatalf("apply: %v %v", captured, err)
	}
	if p := pos.PieceAt(sq(t, "1a")); !p.Promoted {
		t.Fatalf("pawn should be promoted on the last rank: %v", p)
	}
}

// TestCanPromote_Zone verifies entering, leaving and moving inside the zone.
func TestCanPromote_Zone(t *testing.T) {
	pos := shogi.NewPosition()
	pos.SetPiece(5, 4, shogi.Silver, shogi.First, false)
	pos.SetPiece(1, 3, shogi.Silver, shogi.First, false)
	pos.SetPiece(8, 8, shogi.Gold, shogi.First, false)
	pos.SetPiece(5, 5, shogi.Silver, shogi.Second, false)

	cases := []struct {
		move string
		want bool
	}{
		{"5d5c", true},
		{"1c2d", true},
		{"5d4e", false},
		{"8h8g", false},
	}
	for _, tc := range cases {
		m, err := shogi.ParseUSIMove(tc.move)
		if err != nil {
			t.Fatalf("parse %s: %v", tc.move, err)
		}
		if got := pos.CanPromote(m); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.move, got, tc.want)
		}
	}
	second, _ := shogi.ParseUSIMove("5e5f")
	if pos.CanPromote(second) {
		t.Fatal("second silver on 5f is outside its zone")
	}
	entering, _ := shogi.ParseUSIMove("5e4f")
	if pos.CanPromote(entering) {
		t.Fatal("second silver moving to 4f stays outside its zone")
	}
}

// TestParseUSIMove verifies board moves, drops and malformed input.
func TestParseUSIMove(t *testing.T) {
	m, err := shogi.ParseUSIMove("8h2b+")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.From != sq(t, "8h") || m.To != sq(t, "2b") || m.Promote != shogi.PromoteYes {
		t.Fatalf("unexpected move %+v", m)
	}
	if m.USI() != "8h2b+" {
		t.Fatalf("usi: %s", m.USI())
	}
	d, err := shogi.ParseUSIMove("P*5e")
	if err != nil || !d.IsDrop() || d.Drop != shogi.Pawn || d.To != sq(t, "5e") {
		t.Fatalf("drop: %+v %v", d, err)
	}
	plain, _ := shogi.ParseUSIMove("7g7f")
	if plain.Promote != shogi.PromoteNo {
		t.Fatalf("plain move should decline promotion: %v", plain.Promote)
	}
	for _, bad := range []string{"", "7g", "7g7f=", "K*5e", "0a1b", "7g7j"} {
		if _, err := shogi.ParseUSIMove(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

// TestSquare_USINames verifies the file/rank mapping.
func TestSquare_USINames(t *testing.T) {
	s := shogi.SquareAt(7, 7)
	if s.Row != 6 || s.Col != 2 {
		t.Fatalf("7g should be row 6 col 2, got %+v", s)
	}
	if s.String() != "7g" {
		t.Fatalf("string: %s", s)
	}
	if !strings.EqualFold(shogi.Square{Row: 0, Col: 0}.String(), "9a") {
		t.Fatalf("top-left should be 9a")
	}
}
