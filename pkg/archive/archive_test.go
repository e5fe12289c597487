package archive_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"koma/pkg/archive"
	"koma/pkg/shogi"
)

func play(t *testing.T, g *shogi.Game, moves ...string) {
	t.Helper()
	for _, text := range moves {
		m, err := shogi.ParseUSIMove(text)
		if err != nil {
			t.Fatalf("parse %s: %v", text, err)
		}
		if err := g.Apply(m); err != nil {
			t.Fatalf("apply %s: %v", text, err)
		}
	}
}

// TestSchemaMatchesRecord verifies the embedded schema names every column.
func TestSchemaMatchesRecord(t *testing.T) {
	schema, err := archive.LoadSchema()
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	if err := archive.ValidateSchema(schema, archive.GameRecord{}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	schema.Fields = schema.Fields[1:]
	err = archive.ValidateSchema(schema, archive.GameRecord{})
	if err == nil || !strings.Contains(err.Error(), "game_id") {
		t.Fatalf("expected mismatch on game_id, got %v", err)
	}
}

// TestBuildRecord_Material verifies moves, result and per-ply scores.
func TestBuildRecord_Material(t *testing.T) {
	g := shogi.NewGame()
	play(t, g, "7g7f", "3c3d", "8h2b+", "3a2b")
	meta := archive.Meta{ID: "g1", Names: [2]string{"ai:advanced", "ai:beginner"}, Seed: 9, Duration: 1500 * time.Millisecond}
	rec, err := archive.BuildRecord(context.Background(), meta, g, archive.MaterialEvaluator())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rec.Moves != "7g7f 3c3d 8h2b+ 3a2b" || rec.MoveCount != 4 || rec.Result != archive.ResultUnfinished {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.SenteName != "ai:advanced" || rec.DurationMS != 1500 || rec.StartSFEN != shogi.StandardSFEN {
		t.Fatalf("unexpected meta: %+v", rec)
	}
	if len(rec.MoveEvals) != 4 {
		t.Fatalf("got %d evals", len(rec.MoveEvals))
	}
	// After 8h2b+ First has a bishop in hand; after 3a2b both do.
	if rec.MoveEvals[2].ScoreValue <= 0 || rec.MoveEvals[3].ScoreValue != 0 {
		t.Fatalf("unexpected scores: %+v", rec.MoveEvals)
	}
	if rec.MoveEvals[2].Move != "8h2b+" || rec.MoveEvals[2].ScoreType != "material" {
		t.Fatalf("unexpected eval: %+v", rec.MoveEvals[2])
	}
}

// TestBuildRecord_KingCapture verifies the winner and that no score follows the capture.
func TestBuildRecord_KingCapture(t *testing.T) {
	pos, _, err := shogi.ParseSFEN("4k4/4R4/9/9/9/9/9/9/4K4 b - 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	g := shogi.NewGameFrom(pos)
	play(t, g, "5b5a")
	rec, err := archive.BuildRecord(context.Background(), archive.Meta{ID: "k"}, g, archive.MaterialEvaluator())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rec.Result != archive.ResultFirstWin || rec.WinReason != "king_captured" || len(rec.MoveEvals) != 0 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

// TestBuildRecord_EvaluatorError verifies scoring failures abort the record.
func TestBuildRecord_EvaluatorError(t *testing.T) {
	g := shogi.NewGame()
	play(t, g, "7g7f")
	boom := errors.New("engine gone")
	eval := func(context.Context, *shogi.Position, int) (string, int, error) { return "", 0, boom }
	if _, err := archive.BuildRecord(context.Background(), archive.Meta{}, g, eval); !errors.Is(err, boom) {
		t.Fatalf("expected evaluator error, got %v", err)
	}
}

// TestWriteRead verifies records survive a parquet round trip.
func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.parquet")
	g := shogi.NewGame()
	play(t, g, "2g2f", "8c8d")
	first, err := archive.BuildRecord(context.Background(), archive.Meta{ID: "a", Names: [2]string{"x", "y"}}, g, archive.MaterialEvaluator())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := archive.BuildRecord(context.Background(), archive.Meta{ID: "b"}, shogi.NewGame(), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	records := make(chan archive.GameRecord, 2)
	records <- first
	records <- second
	close(records)
	if err := archive.Write(path, records, 2); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := archive.Read(path, 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records", len(got))
	}
	if got[0].GameID != "a" || got[0].GoteName != "y" || len(got[0].MoveList()) != 2 || len(got[0].MoveEvals) != 2 {
		t.Fatalf("unexpected first record: %+v", got[0])
	}
	if got[1].GameID != "b" || got[1].MoveCount != 0 || got[1].Result != archive.ResultUnfinished {
		t.Fatalf("unexpected second record: %+v", got[1])
	}
}

// TestApplyKIF takes the written result and terminal reason from a KIF.
func TestApplyKIF(t *testing.T) {
	k, err := shogi.LoadKIF(filepath.Join("..", "shogi", "testdata", "basic_aigakari.kif"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	g, err := k.Replay()
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	rec, err := archive.BuildRecord(context.Background(), archive.Meta{ID: "kif"}, g, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rec.Result != archive.ResultUnfinished {
		t.Fatalf("replayed result: %s", rec.Result)
	}
	archive.ApplyKIF(&rec, k)
	if rec.Result != archive.ResultSecondWin || rec.WinReason != "resign" || rec.MoveCount != 12 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}
