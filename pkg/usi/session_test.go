package usi_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"koma/pkg/match"
	"koma/pkg/shogi"
	"koma/pkg/usi"
)

// fakeEngine answers each command line with the lines reply returns.
func fakeEngine(t *testing.T, reply func(cmd string) []string) (*usi.Session, func() []string) {
	t.Helper()
	cmdR, cmdW := io.Pipe()
	outR, outW := io.Pipe()
	var mu sync.Mutex
	var cmds []string
	go func() {
		defer outW.Close()
		sc := bufio.NewScanner(cmdR)
		for sc.Scan() {
			line := sc.Text()
			mu.Lock()
			cmds = append(cmds, line)
			mu.Unlock()
			for _, out := range reply(line) {
				if _, err := fmt.Fprintln(outW, out); err != nil {
					return
				}
			}
		}
	}()
	s := usi.NewSession(outR, cmdW)
	t.Cleanup(func() { _ = s.Close() })
	return s, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), cmds...)
	}
}

func standard(bestmove string) func(string) []string {
	return func(cmd string) []string {
		switch {
		case cmd == "usi":
			return []string{"id name Fake", "id author koma", "option name Threads type spin default 1", "usiok"}
		case cmd == "isready":
			return []string{"readyok"}
		case strings.HasPrefix(cmd, "go"):
			return []string{"info depth 1 score cp 40 pv 7g7f", "info depth 2 score cp -25 pv 2g2f", "bestmove " + bestmove}
		}
		return nil
	}
}

// TestParseLine covers every event kind.
func TestParseLine(t *testing.T) {
	cases := []struct {
		line string
		want usi.Event
	}{
		{"id name YaneuraOu NNUE", usi.Event{Type: usi.EventID, Key: "name", Value: "YaneuraOu NNUE"}},
		{"usiok", usi.Event{Type: usi.EventUSIOK}},
		{"readyok", usi.Event{Type: usi.EventReadyOK}},
		{"bestmove 7g7f ponder 3c3d", usi.Event{Type: usi.EventBestMove, Move: "7g7f", Ponder: "3c3d"}},
		{"bestmove resign", usi.Event{Type: usi.EventBestMove, Move: "resign"}},
		{"info depth 3 score cp 12", usi.Event{Type: usi.EventInfo, Raw: "info depth 3 score cp 12"}},
	}
	for _, tc := range cases {
		got, err := usi.ParseLine(tc.line)
		if err != nil {
			t.Fatalf("%q: %v", tc.line, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %+v want %+v", tc.line, got, tc.want)
		}
	}
	if _, err := usi.ParseLine("bestmove"); err == nil {
		t.Fatal("expected error for bare bestmove")
	}
}

// TestParseScore covers centipawn and mate scores.
func TestParseScore(t *testing.T) {
	s, ok := usi.ParseScore("info depth 10 seldepth 12 score mate -3 nodes 100")
	if !ok || s.Kind != "mate" || s.Value != -3 || s.Centipawns() != -usi.MateScore {
		t.Fatalf("unexpected score: %+v %v", s, ok)
	}
	s, ok = usi.ParseScore("info score cp 150 pv 7g7f")
	if !ok || s.String() != "cp 150" || s.Centipawns() != 150 {
		t.Fatalf("unexpected score: %+v %v", s, ok)
	}
	if _, ok := usi.ParseScore("info string hello"); ok {
		t.Fatal("expected no score")
	}
}

// TestHandshake verifies options are sent sorted before isready.
func TestHandshake(t *testing.T) {
	s, cmds := fakeEngine(t, standard("7g7f"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Handshake(ctx, map[string]string{"USI_Hash": "256", "Threads": "1"}); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	want := []string{"usi", "setoption name Threads value 1", "setoption name USI_Hash value 256", "isready", "usinewgame"}
	if got := cmds(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}
	if s.ID["name"] != "Fake" {
		t.Fatalf("engine name not recorded: %v", s.ID)
	}
}

// TestEvaluate_FlipsForSecond verifies scores are reported from First's side.
func TestEvaluate_FlipsForSecond(t *testing.T) {
	s, _ := fakeEngine(t, standard("3c3d"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	score, move, err := s.Evaluate(ctx, "lnsgkgsnl/1r5b1/ppppppppp/9/9/2P6/PP1PPPPPP/1B5R1/LNSGKGSNL w - 2", 10)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if move != "3c3d" || score.Value != 25 {
		t.Fatalf("got %s %v", move, score)
	}
}

// TestBestMove_Resign verifies resign is an error rather than a move.
func TestBestMove_Resign(t *testing.T) {
	s, _ := fakeEngine(t, standard("resign"))
	if _, err := s.BestMove(context.Background(), shogi.StandardSFEN, 10); !errors.Is(err, usi.ErrResign) {
		t.Fatalf("expected ErrResign, got %v", err)
	}
}

// TestSearch_CancelSendsStop verifies an abandoned search is stopped and drained.
func TestSearch_CancelSendsStop(t *testing.T) {
	var searches int
	s, cmds := fakeEngine(t, func(cmd string) []string {
		switch {
		case strings.HasPrefix(cmd, "go"):
			searches++
			if searches == 1 {
				return nil
			}
			return []string{"bestmove 2g2f"}
		case cmd == "stop":
			return []string{"bestmove 7g7f"}
		}
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.BestMove(ctx, shogi.StandardSFEN, 10000); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	found := false
	for _, c := range cmds() {
		found = found || c == "stop"
	}
	if !found {
		t.Fatal("stop was not sent")
	}
	move, err := s.BestMove(context.Background(), shogi.StandardSFEN, 10)
	if err != nil || move != "2g2f" {
		t.Fatalf("stale bestmove leaked: %s %v", move, err)
	}
}

// TestSource_RequestMove verifies the engine sees the requested side to move.
func TestSource_RequestMove(t *testing.T) {
	s, cmds := fakeEngine(t, standard("3c3d"))
	pos := shogi.InitialPosition()
	src := usi.Source{Session: s, Millis: 50}
	m, err := src.RequestMove(context.Background(), match.Request{Position: pos, Side: shogi.Second, Ply: 1})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if m.USI() != "3c3d" {
		t.Fatalf("got %s", m.USI())
	}
	got := cmds()
	if got[0] != "position sfen lnsgkgsnl/1r5b1/ppppppppp/9/9/9/PPPPPPPPP/1B5R1/LNSGKGSNL w - 2" || got[1] != "go movetime 50" {
		t.Fatalf("unexpected commands: %q", got)
	}
}

// TestSession_RealEngine runs against the engine named in config.json when present.
func TestSession_RealEngine(t *testing.T) {
	cfgPath, root, err := match.FindConfigPath()
	if err != nil {
		t.Skipf("no config.json: %v", err)
	}
	cfg, err := match.LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config.json: %v", err)
	}
	path := cfg.EnginePath(root)
	if path == "" {
		t.Skip("config.json names no engine")
	}
	if _, err := os.Stat(path); err != nil {
		t.Skipf("engine binary not found at %s: %v", path, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := usi.StartSession(ctx, path, cfg.EngineArgs...)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()
	if err := s.Handshake(ctx, cfg.Options); err != nil {
		t.Skipf("engine failed to start: %v", err)
	}
	move, err := s.BestMove(ctx, shogi.StandardSFEN, cfg.Millis)
	if err != nil {
		t.Fatalf("bestmove: %v", err)
	}
	m, err := shogi.ParseUSIMove(move)
	if err != nil || !shogi.InitialPosition().IsLegal(shogi.First, m) {
		t.Fatalf("engine played %q: %v", move, err)
	}
}

// TestIsEngineFailure verifies which errors call for a restart.
func TestIsEngineFailure(t *testing.T) {
	if !usi.IsEngineFailure(fmt.Errorf("read: %w", usi.ErrStdoutClosed)) || !usi.IsEngineFailure(errors.New("write |1: broken pipe")) {
		t.Fatal("expected engine failure")
	}
	if usi.IsEngineFailure(nil) || usi.IsEngineFailure(usi.ErrResign) {
		t.Fatal("unexpected engine failure")
	}
}
