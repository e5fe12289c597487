package shogi_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"koma/pkg/shogi"
)

// TestParseRecord_EmptyMoves verifies an empty move list loads the start.
func TestParseRecord_EmptyMoves(t *testing.T) {
	g, err := shogi.ParseRecord([]byte(`{"version":1,"timestamp":"2024-01-01T00:00:00Z","winner":null,"moves":[]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(g.History()) != 0 {
		t.Fatalf("history should be empty, got %d", len(g.History()))
	}
	if g.Position().SFEN(1) != shogi.StandardSFEN {
		t.Fatalf("position: %s", g.Position().SFEN(1))
	}
}

// TestParseRecord_RejectsMissingMoves verifies validation happens up front.
func TestParseRecord_RejectsMissingMoves(t *testing.T) {
	cases := []string{
		`{"version":1,"winner":null}`,
		`{"version":1,"moves":null}`,
		`{"version":1,"moves":{}}`,
		`{"version":1,"moves":"7g7f"}`,
		`not json`,
	}
	for _, raw := range cases {
		if _, err := shogi.ParseRecord([]byte(raw)); !errors.Is(err, shogi.ErrMalformedRecord) {
			t.Fatalf("%s: expected malformed record, got %v", raw, err)
		}
	}
}

// TestParseRecord_RejectsIllegalMove verifies nothing loads past a bad ply.
func TestParseRecord_RejectsIllegalMove(t *testing.T) {
	raw := `{"moves":[{"type":"move","fromRow":6,"fromCol":2,"toRow":4,"toCol":2,"piece":"P","promoted":false,"turn":"first"}]}`
	g, err := shogi.ParseRecord([]byte(raw))
	if err == nil || g != nil {
		t.Fatalf("expected failure, got %v %v", g, err)
	}
	if !errors.Is(err, shogi.ErrIllegalMove) {
		t.Fatalf("expected illegal move, got %v", err)
	}
}

// TestRecord_RoundTrip verifies export then import reproduces the game.
func TestRecord_RoundTrip(t *testing.T) {
	g := shogi.NewGame()
	play(t, g, "7g7f", "3c3d", "8h2b+", "3a2b", "B*4e")
	var buf bytes.Buffer
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := shogi.WriteRecord(&buf, g, now); err != nil {
		t.Fatalf("write: %v", err)
	}

	var rec shogi.Record
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Version != shogi.RecordVersion || rec.Timestamp != "2024-05-01T12:00:00Z" || rec.Winner != nil {
		t.Fatalf("header: %+v", rec)
	}
	if len(rec.Moves) != 5 || rec.Moves[4].Type != "drop" || rec.Moves[4].FromRow != nil {
		t.Fatalf("moves: %+v", rec.Moves)
	}
	if !rec.Moves[2].Promoted || rec.Moves[2].Captured != "b" {
		t.Fatalf("bishop exchange: %+v", rec.Moves[2])
	}
	if got := rec.Moves[3].CapturedPiecesBefore.First; len(got) != 1 || got[0] != "B" {
		t.Fatalf("hands before 4th move: %+v", rec.Moves[3].CapturedPiecesBefore)
	}

	loaded, err := shogi.ReadRecord(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got, want := loaded.Position().SFEN(1), g.Position().SFEN(1); got != want {
		t.Fatalf("position: got %s want %s", got, want)
	}
	if len(loaded.History()) != 5 {
		t.Fatalf("history: %d", len(loaded.History()))
	}
}

// TestRecord_CustomStartAndWinner verifies the initial board and result are kept.
func TestRecord_CustomStartAndWinner(t *testing.T) {
	g := gameFrom(t, "4k4/9/9/9/4R4/9/9/9/K8 b G 1")
	play(t, g, "5e5a")
	var buf bytes.Buffer
	if err := shogi.WriteRecord(&buf, g, time.Unix(0, 0)); err != nil {
		t.Fatalf("write: %v", err)
	}
	text := buf.String()
	if !strings.Contains(text, `"winner": "first"`) || !strings.Contains(text, `"reason": "king_captured"`) {
		t.Fatalf("result missing from %s", text)
	}
	loaded, err := shogi.ReadRecord(strings.NewReader(text))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if loaded.InitialPosition().SFEN(1) != "4k4/9/9/9/4R4/9/9/9/K8 b G 1" {
		t.Fatalf("initial: %s", loaded.InitialPosition().SFEN(1))
	}
	if loaded.Status() != shogi.Ended {
		t.Fatalf("replayed game should end: %s", loaded.Status())
	}
}

// TestRecord_KeepsCursorAfterUndo verifies an undone move is exported as a
// redo tail and the reloaded game sits at the same position.
func TestRecord_KeepsCursorAfterUndo(t *testing.T) {
	g := gameFrom(t, "4k4/9/9/9/9/9/9/4R4/4K4 b - 1")
	play(t, g, "5h5a")
	if err := g.Undo(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	var buf bytes.Buffer
	if err := shogi.WriteRecord(&buf, g, time.Unix(0, 0)); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := shogi.ReadRecord(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if loaded.Status() != g.Status() || loaded.Cursor() != 0 {
		t.Fatalf("reloaded status=%s cursor=%d, want %s cursor=0", loaded.Status(), loaded.Cursor(), g.Status())
	}
	if got, want := loaded.Position().SFEN(1), g.Position().SFEN(1); got != want {
		t.Fatalf("reloaded %s want %s", got, want)
	}
	if _, ok := loaded.Winner(); ok {
		t.Fatalf("reloaded game should have no winner")
	}
	if err := loaded.Redo(); err != nil {
		t.Fatalf("redo: %v", err)
	}
	if side, ok := loaded.Winner(); !ok || side != shogi.First {
		t.Fatalf("redo winner = %v/%v", side, ok)
	}
}

// TestParseRecord_RejectsBadCursor verifies a cursor past the moves fails.
func TestParseRecord_RejectsBadCursor(t *testing.T) {
	raw := `{"version":1,"timestamp":"2024-01-01T00:00:00Z","winner":null,"moves":[],"cursor":2}`
	if _, err := shogi.ParseRecord([]byte(raw)); !errors.Is(err, shogi.ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}
