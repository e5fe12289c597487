package match_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"koma/pkg/ai"
	"koma/pkg/match"
	"koma/pkg/shogi"
)

func quiet(...any) {}

type sourceFunc func(ctx context.Context, req match.Request) (shogi.Move, error)

func (f sourceFunc) RequestMove(ctx context.Context, req match.Request) (shogi.Move, error) {
	return f(ctx, req)
}

func fixed(move string) sourceFunc {
	return func(context.Context, match.Request) (shogi.Move, error) {
		return shogi.ParseUSIMove(move)
	}
}

// blocking answers only after release is closed, signalling entered first.
func blocking(entered chan<- struct{}, release <-chan struct{}) sourceFunc {
	return func(ctx context.Context, req match.Request) (shogi.Move, error) {
		entered <- struct{}{}
		select {
		case <-release:
			return req.Legal[0], nil
		case <-ctx.Done():
			return shogi.Move{}, ctx.Err()
		}
	}
}

func newEngine(level ai.Level) *ai.Engine {
	cfg := ai.DefaultConfig()
	cfg.Level = level
	cfg.Seed = 7
	cfg.Logger = quiet
	return ai.NewEngine(&cfg)
}

func controller(timeout time.Duration) *match.Controller {
	return match.NewController(shogi.NewGame(), match.Options{
		Timeout:  timeout,
		Fallback: newEngine(ai.Intermediate),
		Logger:   quiet,
	})
}

// TestStep_LocalSource verifies a computer move is played for the side to move.
func TestStep_LocalSource(t *testing.T) {
	c := controller(time.Second)
	c.SetSource(shogi.First, match.LocalSource{Engine: newEngine(ai.Intermediate)})
	out, err := c.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if out.FellBack {
		t.Fatalf("unexpected fallback: %v", out.Cause)
	}
	if out.Side != shogi.First || out.Source != "ai:intermediate" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	st := c.State()
	if st.Cursor != 1 || st.Turn != "second" || st.Moves[0] != out.Move.USI() {
		t.Fatalf("unexpected state: %+v", st)
	}
}

// TestStep_SourceMove verifies a legal external move is played as given.
func TestStep_SourceMove(t *testing.T) {
	c := controller(time.Second)
	c.SetSource(shogi.First, fixed("2g2f"))
	out, err := c.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if out.FellBack || out.Move.USI() != "2g2f" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

// TestStep_FallbackOnFailure verifies errors and illegal answers are replaced.
func TestStep_FallbackOnFailure(t *testing.T) {
	failing := sourceFunc(func(context.Context, match.Request) (shogi.Move, error) {
		return shogi.Move{}, errors.New("engine crashed")
	})
	for name, src := range map[string]match.MoveSource{
		"error":   failing,
		"illegal": fixed("5i5e"),
		"zero":    sourceFunc(func(context.Context, match.Request) (shogi.Move, error) { return shogi.Move{}, nil }),
	} {
		c := controller(time.Second)
		c.SetSource(shogi.First, src)
		out, err := c.Step(context.Background())
		if err != nil {
			t.Fatalf("%s: step: %v", name, err)
		}
		if !out.FellBack || out.Cause == nil {
			t.Fatalf("%s: expected fallback, got %+v", name, out)
		}
		if c.State().Cursor != 1 {
			t.Fatalf("%s: fallback move not played", name)
		}
	}
}

// TestStep_Timeout verifies a slow source is abandoned after the timeout.
func TestStep_Timeout(t *testing.T) {
	c := controller(20 * time.Millisecond)
	c.SetSource(shogi.First, sourceFunc(func(ctx context.Context, req match.Request) (shogi.Move, error) {
		time.Sleep(time.Second)
		return req.Legal[0], nil
	}))
	start := time.Now()
	out, err := c.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("step waited for the slow source")
	}
	if !out.FellBack || !errors.Is(out.Cause, context.DeadlineExceeded) {
		t.Fatalf("expected deadline fallback, got %+v", out)
	}
}

// TestStep_Cancelled verifies a cancelled caller plays nothing.
func TestStep_Cancelled(t *testing.T) {
	c := controller(time.Second)
	entered := make(chan struct{}, 1)
	c.SetSource(shogi.First, blocking(entered, make(chan struct{})))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-entered
		cancel()
	}()
	if _, err := c.Step(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	st := c.State()
	if st.Cursor != 0 || st.Busy {
		t.Fatalf("unexpected state: %+v", st)
	}
}

// TestStep_HumanTurn verifies steps are refused for human sides.
func TestStep_HumanTurn(t *testing.T) {
	c := controller(time.Second)
	c.SetSource(shogi.Second, fixed("3c3d"))
	if _, err := c.Step(context.Background()); !errors.Is(err, match.ErrHumanTurn) {
		t.Fatalf("expected ErrHumanTurn, got %v", err)
	}
}

// TestStep_Busy verifies only one request is outstanding at a time.
func TestStep_Busy(t *testing.T) {
	c := controller(time.Second)
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	c.SetSource(shogi.First, blocking(entered, release))

	done := make(chan error, 1)
	go func() {
		_, err := c.Step(context.Background())
		done <- err
	}()
	<-entered
	if _, err := c.Step(context.Background()); !errors.Is(err, match.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	m, _ := shogi.ParseUSIMove("7g7f")
	if err := c.Play(m); !errors.Is(err, match.ErrBusy) {
		t.Fatalf("expected ErrBusy from Play, got %v", err)
	}
	if !c.State().Busy {
		t.Fatal("state should report busy")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("step: %v", err)
	}
	if c.State().Cursor != 1 {
		t.Fatal("move not played")
	}
}

// TestStep_StaleAfterReset verifies a late answer is discarded.
func TestStep_StaleAfterReset(t *testing.T) {
	c := controller(time.Second)
	entered := make(chan struct{}, 1)
	c.SetSource(shogi.First, blocking(entered, make(chan struct{})))

	done := make(chan error, 1)
	go func() {
		_, err := c.Step(context.Background())
		done <- err
	}()
	<-entered
	c.Reset()
	if err := <-done; !errors.Is(err, match.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	st := c.State()
	if st.Cursor != 0 || st.Busy {
		t.Fatalf("unexpected state: %+v", st)
	}
}

// TestStep_StaleAfterHistoryMove verifies Undo and GoTo discard a late answer.
func TestStep_StaleAfterHistoryMove(t *testing.T) {
	cases := []struct {
		name   string
		scrub  func(c *match.Controller) error
		cursor int
	}{
		{"undo", (*match.Controller).Undo, 1},
		{"goto", func(c *match.Controller) error { return c.GoTo(0) }, 0},
	}
	for _, tc := range cases {
		c := controller(time.Second)
		for _, text := range []string{"7g7f", "3c3d"} {
			m, _ := shogi.ParseUSIMove(text)
			if err := c.Play(m); err != nil {
				t.Fatalf("%s: play %s: %v", tc.name, text, err)
			}
		}
		entered := make(chan struct{}, 1)
		c.SetSource(shogi.First, blocking(entered, make(chan struct{})))

		done := make(chan error, 1)
		go func() {
			_, err := c.Step(context.Background())
			done <- err
		}()
		<-entered
		if err := tc.scrub(c); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if err := <-done; !errors.Is(err, match.ErrStale) {
			t.Fatalf("%s: expected ErrStale, got %v", tc.name, err)
		}
		st := c.State()
		if st.Cursor != tc.cursor || st.Busy {
			t.Fatalf("%s: unexpected state: %+v", tc.name, st)
		}
	}
}

// TestRun_StopsAtHumanTurn verifies Run hands control back to the human.
func TestRun_StopsAtHumanTurn(t *testing.T) {
	c := controller(time.Second)
	c.SetSource(shogi.First, fixed("7g7f"))
	var played []string
	if err := c.Run(context.Background(), func(out match.Outcome) {
		played = append(played, out.Move.USI())
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(played) != 1 || played[0] != "7g7f" {
		t.Fatalf("unexpected moves: %v", played)
	}
	m, _ := shogi.ParseUSIMove("3c3d")
	if err := c.Play(m); err != nil {
		t.Fatalf("play: %v", err)
	}
	st := c.State()
	if st.Cursor != 2 || st.Players[0] != "match_test.sourceFunc" || st.Players[1] != "human" {
		t.Fatalf("unexpected state: %+v", st)
	}
}

// TestRun_StopsAtGameEnd verifies Run returns quietly once a king is taken.
func TestRun_StopsAtGameEnd(t *testing.T) {
	pos, _, err := shogi.ParseSFEN("4k4/4R4/9/9/9/9/9/9/4K4 b - 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := match.NewController(shogi.NewGameFrom(pos), match.Options{Logger: quiet})
	c.SetSource(shogi.First, fixed("5b5a"))
	if err := c.Run(context.Background(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	st := c.State()
	if st.Status != "ended" || st.Winner != "first" || st.Reason != "king_captured" {
		t.Fatalf("unexpected state: %+v", st)
	}
	if _, err := c.Step(context.Background()); !errors.Is(err, shogi.ErrGameOver) {
		t.Fatalf("expected ErrGameOver, got %v", err)
	}
}

// TestPromotionPending verifies a human promotion choice blocks the computer.
func TestPromotionPending(t *testing.T) {
	pos, _, err := shogi.ParseSFEN("4k4/9/9/4S4/9/9/9/9/4K4 b - 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := match.NewController(shogi.NewGameFrom(pos), match.Options{Logger: quiet})
	c.SetSource(shogi.Second, fixed("5a4a"))
	m := shogi.NewMove(shogi.SquareAt(5, 4), shogi.SquareAt(5, 3), shogi.PromoteUnset)
	if err := c.Play(m); err != nil {
		t.Fatalf("play: %v", err)
	}
	st := c.State()
	if st.Status != "awaiting_promotion" || st.Pending == nil || st.Pending.To != "5c" {
		t.Fatalf("unexpected state: %+v", st)
	}
	if _, err := c.Step(context.Background()); !errors.Is(err, shogi.ErrPromotionPending) {
		t.Fatalf("expected ErrPromotionPending, got %v", err)
	}
	if err := c.ResolvePromotion(true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := c.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}
	st = c.State()
	if len(st.Moves) != 2 || st.Moves[0] != "5d5c+" || st.Moves[1] != "5a4a" {
		t.Fatalf("unexpected moves: %v", st.Moves)
	}
}
