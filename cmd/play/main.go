package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"koma/pkg/ai"
	"koma/pkg/match"
	"koma/pkg/player"
	"koma/pkg/shogi"
)

const help = `commands:
  7g7f, 8h2b+, P*5e   play a move in USI notation ("+" promotes)
  y / n               answer a pending promotion
  undo, redo          step back or forward (undo returns to your move)
  goto N              jump to the position after N moves
  moves               list legal moves
  save FILE           save as JSON, or KIF when FILE ends in .kif
  load FILE           load a JSON or KIF game
  reset               start over
  quit`

// session runs the read-eval loop over one controller.
type session struct {
	ctrl    *match.Controller
	in      *bufio.Scanner
	out     io.Writer
	started time.Time
}

func main() {
	configPath := flag.String("config", "", "path to config.json (default: search upward)")
	first := flag.String("first", "human", "first player: human, ai[:level], usi or ollama[:model]")
	second := flag.String("second", "ai", "second player: human, ai[:level], usi or ollama[:model]")
	sfen := flag.String("sfen", "", "start from this SFEN instead of the even-game position")
	flag.Parse()

	cfg, root, err := match.ResolveConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		// Unblock the prompt; a second interrupt kills the process.
		<-ctx.Done()
		stop()
		_ = os.Stdin.Close()
	}()

	game := shogi.NewGame()
	if *sfen != "" {
		start, _, err := shogi.ParseSFEN(*sfen)
		if err != nil {
			fatal(err)
		}
		game = shogi.NewGameFrom(start)
	}
	fallbackCfg := ai.DefaultConfig()
	fallbackCfg.Seed = cfg.Seed
	logger := func(a ...any) { fmt.Fprintln(os.Stderr, a...) }
	ctrl := match.NewController(game, match.Options{
		Timeout:  cfg.Timeout(),
		Fallback: ai.NewEngine(&fallbackCfg),
		Logger:   logger,
	})
	for i, kind := range []string{*first, *second} {
		p, err := player.New(ctx, kind, cfg, root, int64(i), logger)
		if err != nil {
			fatal(fmt.Errorf("%s: %w", shogi.Side(i), err))
		}
		defer p.Close()
		ctrl.SetSource(shogi.Side(i), p.Source)
	}

	s := &session{ctrl: ctrl, in: bufio.NewScanner(os.Stdin), out: os.Stdout, started: time.Now()}
	if err := s.loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func (s *session) loop(ctx context.Context) error {
	fmt.Fprintln(s.out, help)
	for {
		if err := s.advance(ctx); err != nil {
			return err
		}
		s.show()
		st := s.ctrl.State()
		if st.Status == shogi.Ended.String() {
			return nil
		}
		prompt := st.Turn + "> "
		if st.Pending != nil {
			prompt = fmt.Sprintf("promote %s%s? [y/n] ", st.Pending.From, st.Pending.To)
		}
		fmt.Fprint(s.out, prompt)
		if !s.in.Scan() {
			if err := ctx.Err(); err != nil {
				return err
			}
			return s.in.Err()
		}
		quit, err := s.exec(strings.TrimSpace(s.in.Text()))
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// advance lets the computer sides move until a human is to move.
func (s *session) advance(ctx context.Context) error {
	return s.ctrl.Run(ctx, func(o match.Outcome) {
		line := fmt.Sprintf("%s plays %s (%s)", o.Side, o.Move.USI(), o.Source)
		if o.FellBack {
			line += fmt.Sprintf(" [fallback: %v]", o.Cause)
		}
		fmt.Fprintln(s.out, line)
	})
}

func (s *session) show() {
	var pos *shogi.Position
	var last *shogi.Square
	_ = s.ctrl.With(func(g *shogi.Game) error {
		pos = g.Position()
		if c := g.Cursor(); c > 0 {
			to := g.History()[c-1].Move.To
			last = &to
		}
		return nil
	})
	render(s.out, pos, last)
	st := s.ctrl.State()
	if st.Status == shogi.Ended.String() {
		if st.Winner != "" {
			fmt.Fprintf(s.out, "game over: %s wins (%s)\n", st.Winner, st.Reason)
		} else {
			fmt.Fprintf(s.out, "game over: draw (%s)\n", st.Reason)
		}
	}
}

// exec runs one command line and reports whether the session should end.
func (s *session) exec(line string) (bool, error) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(cmd) {
	case "":
		return false, nil
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		fmt.Fprintln(s.out, help)
	case "y", "yes":
		return false, s.ctrl.ResolvePromotion(true)
	case "n", "no":
		return false, s.ctrl.ResolvePromotion(false)
	case "undo":
		return false, s.undo()
	case "redo":
		return false, s.ctrl.Redo()
	case "goto":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return false, fmt.Errorf("goto: %w", err)
		}
		return false, s.ctrl.GoTo(n)
	case "moves":
		fmt.Fprintln(s.out, strings.Join(s.ctrl.State().Legal, " "))
	case "save":
		return false, s.save(arg)
	case "load":
		return false, s.load(arg)
	case "reset":
		s.ctrl.Reset()
		s.started = time.Now()
	default:
		m, err := parseMove(cmd)
		if err != nil {
			return false, err
		}
		return false, s.ctrl.Play(m)
	}
	return false, nil
}

// parseMove reads a USI move. A board move without "+" is left for the
// promotion prompt; "=" declines explicitly.
func parseMove(text string) (shogi.Move, error) {
	decline := strings.HasSuffix(text, "=")
	m, err := shogi.ParseUSIMove(strings.TrimSuffix(text, "="))
	if err != nil {
		return shogi.Move{}, err
	}
	if !m.IsDrop() && m.Promote == shogi.PromoteNo && !decline {
		m.Promote = shogi.PromoteUnset
	}
	return m, nil
}

// undo steps back at least once and then past computer moves so the
// human is to move again.
func (s *session) undo() error {
	if err := s.ctrl.Undo(); err != nil {
		return err
	}
	for {
		var turn shogi.Side
		var cursor int
		_ = s.ctrl.With(func(g *shogi.Game) error {
			turn, cursor = g.Turn(), g.Cursor()
			return nil
		})
		if cursor == 0 || !s.ctrl.IsComputer(turn) || s.ctrl.IsComputer(turn.Opponent()) {
			return nil
		}
		if err := s.ctrl.Undo(); err != nil {
			return err
		}
	}
}

func (s *session) save(path string) error {
	if path == "" {
		return errors.New("save: missing file name")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	err = s.ctrl.With(func(g *shogi.Game) error {
		if strings.EqualFold(filepath.Ext(path), ".kif") {
			return shogi.WriteKIF(f, g, s.started, false)
		}
		return shogi.WriteRecord(f, g, time.Now())
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "saved %s\n", path)
	return f.Close()
}

func (s *session) load(path string) error {
	if path == "" {
		return errors.New("load: missing file name")
	}
	var g *shogi.Game
	if strings.EqualFold(filepath.Ext(path), ".kif") {
		k, err := shogi.LoadKIF(path)
		if err != nil {
			return err
		}
		if g, err = k.Replay(); err != nil {
			return err
		}
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if g, err = shogi.ReadRecord(f); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	s.ctrl.Load(g)
	s.started = time.Now()
	fmt.Fprintf(s.out, "loaded %s\n", path)
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
