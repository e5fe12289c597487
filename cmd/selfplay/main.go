package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"koma/pkg/ai"
	"koma/pkg/archive"
	"koma/pkg/match"
	"koma/pkg/shogi"
	"koma/pkg/usi"
)

type options struct {
	levels   [2]ai.Level
	maxPly   int
	seed     int64
	eval     string
	cfg      match.Config
	root     string
	timeout  time.Duration
	parallel int64
}

func main() {
	startTime := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	configPath := flag.String("config", "", "path to config.json (default: search upward)")
	outputPath := flag.String("output", "selfplay.parquet", "output parquet file")
	games := flag.Int("games", 100, "number of games to play")
	processNum := flag.Int("process-num", 4, "number of parallel workers")
	firstLevel := flag.String("first", "advanced", "level of the first player")
	secondLevel := flag.String("second", "intermediate", "level of the second player")
	maxPly := flag.Int("max-ply", 256, "stop a game unfinished after this many plies")
	seed := flag.Int64("seed", 0, "base seed (0: from config.json or the clock)")
	evalMode := flag.String("eval", "material", "per-ply scores: none, material or engine")
	resume := flag.Bool("resume", false, "resume from existing output parquet")
	flag.Parse()

	cfg, root, err := match.ResolveConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	opts := options{maxPly: *maxPly, seed: *seed, eval: *evalMode, cfg: cfg, root: root, timeout: cfg.Timeout()}
	if opts.levels[shogi.First], err = ai.ParseLevel(*firstLevel); err != nil {
		fatal(err)
	}
	if opts.levels[shogi.Second], err = ai.ParseLevel(*secondLevel); err != nil {
		fatal(err)
	}
	if opts.seed == 0 {
		opts.seed = cfg.Seed
	}
	if opts.seed == 0 {
		opts.seed = time.Now().UnixNano()
	}
	switch opts.eval {
	case "none", "material", "engine":
	default:
		fatal(fmt.Errorf("unknown -eval mode %q", opts.eval))
	}
	if *games <= 0 {
		return
	}

	workers := *processNum
	if workers <= 0 {
		workers = 1
	}
	if workers > *games {
		workers = *games
	}
	opts.parallel = int64(workers)
	if dir := filepath.Dir(*outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fatal(err)
		}
	}

	outputTarget := *outputPath
	processedIDs := make(map[string]struct{})
	resumeFromExisting := false
	if *resume {
		if _, err := os.Stat(*outputPath); err == nil {
			resumeFromExisting = true
			outputTarget = *outputPath + ".tmp"
		}
	}

	jobs := make(chan int)
	errCh := make(chan error, workers)
	results := make(chan archive.GameRecord, workers)
	writeErr := make(chan error, 1)
	done := make(chan struct{})
	var processed int64
	var summary tally
	var writeWg sync.WaitGroup
	writeWg.Add(1)
	go func() {
		defer writeWg.Done()
		writeErr <- archive.Write(outputTarget, results, opts.parallel)
	}()
	if resumeFromExisting {
		existing, err := archive.Read(*outputPath, opts.parallel)
		if err != nil {
			fatal(err)
		}
		for _, rec := range existing {
			processedIDs[rec.GameID] = struct{}{}
			results <- rec
		}
	}
	go func(total int) {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				fmt.Fprintf(os.Stderr, "\rprogress: %d/%d (100%%)\n", total, total)
				return
			case <-ticker.C:
				count := int(atomic.LoadInt64(&processed))
				percent := 0
				if total > 0 {
					percent = int(float64(count) / float64(total) * 100)
				}
				fmt.Fprintf(os.Stderr, "\rprogress: %d/%d (%d%%)", count, total, percent)
			}
		}
	}(*games)

	var wg sync.WaitGroup
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
	stopRequested := make(chan struct{})
	go func() {
		<-stopCh
		cancel()
		close(stopRequested)
	}()
	defer signal.Stop(stopCh)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := newWorker(ctx, opts)
			if err != nil {
				errCh <- err
				return
			}
			defer w.close()
			for n := range jobs {
				if isStopRequested(stopRequested) {
					return
				}
				gameStart := time.Now()
				record, err := w.play(ctx, n)
				if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
					return
				}
				if err != nil && usi.IsEngineFailure(err) {
					if err := w.restart(ctx); err != nil {
						errCh <- err
						return
					}
					record, err = w.play(ctx, n)
					if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
						return
					}
				}
				if isStopRequested(stopRequested) {
					return
				}
				elapsed := time.Since(gameStart).Round(time.Millisecond)
				if err != nil {
					fmt.Fprintf(os.Stderr, "failed to play %s (%s): %v\n", gameID(n), elapsed, err)
					atomic.AddInt64(&processed, 1)
					continue
				}
				summary.add(record)
				results <- record
				atomic.AddInt64(&processed, 1)
			}
		}()
	}

enqueue:
	for n := 0; n < *games; n++ {
		if _, ok := processedIDs[gameID(n)]; ok {
			atomic.AddInt64(&processed, 1)
			continue
		}
		select {
		case <-stopRequested:
			break enqueue
		case jobs <- n:
		}
	}
	close(jobs)
	wg.Wait()
	close(done)
	close(results)
	writeWg.Wait()
	if err := <-writeErr; err != nil {
		fatal(err)
	}
	if resumeFromExisting {
		if err := os.Rename(outputTarget, *outputPath); err != nil {
			fatal(err)
		}
	}
	close(errCh)
	for err := range errCh {
		if err != nil {
			fatal(err)
		}
	}
	summary.print(opts.levels, time.Since(startTime).Round(time.Second))
}

func gameID(n int) string {
	return fmt.Sprintf("game-%06d", n)
}

// worker plays games one at a time, holding an engine session when the
// archive needs engine scores.
type worker struct {
	opts     options
	session  *usi.Session
	fallback *ai.Engine
}

func newWorker(ctx context.Context, opts options) (*worker, error) {
	cfg := ai.DefaultConfig()
	cfg.Logger = quiet
	w := &worker{opts: opts, fallback: ai.NewEngine(&cfg)}
	if opts.eval == "engine" {
		if err := w.restart(ctx); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *worker) restart(ctx context.Context) error {
	w.close()
	session, err := usi.Launch(ctx, w.opts.cfg, w.opts.root)
	if err != nil {
		return err
	}
	w.session = session
	return nil
}

func (w *worker) close() {
	if w.session != nil {
		_ = w.session.Close()
		w.session = nil
	}
}

func (w *worker) evaluator() archive.Evaluator {
	switch w.opts.eval {
	case "material":
		return archive.MaterialEvaluator()
	case "engine":
		return archive.EngineEvaluator(w.session, w.opts.cfg.Millis)
	}
	return nil
}

// play runs game n to its end or the ply cap and builds its record.
func (w *worker) play(ctx context.Context, n int) (archive.GameRecord, error) {
	seed := w.opts.seed + int64(n)*2
	ctrl := match.NewController(shogi.NewGame(), match.Options{
		Timeout:  w.opts.timeout,
		Fallback: w.fallback,
		Logger:   quiet,
	})
	var names [2]string
	for _, side := range []shogi.Side{shogi.First, shogi.Second} {
		cfg := ai.DefaultConfig()
		cfg.Level = w.opts.levels[side]
		cfg.Seed = seed + int64(side)
		cfg.Logger = quiet
		src := match.LocalSource{Engine: ai.NewEngine(&cfg)}
		ctrl.SetSource(side, src)
		names[side] = src.String()
	}

	start := time.Now()
play:
	for ply := 0; ply < w.opts.maxPly; ply++ {
		_, err := ctrl.Step(ctx)
		switch {
		case errors.Is(err, shogi.ErrGameOver):
			break play
		case err != nil:
			return archive.GameRecord{}, err
		}
	}
	meta := archive.Meta{ID: gameID(n), Names: names, Seed: seed, Duration: time.Since(start)}
	var rec archive.GameRecord
	err := ctrl.With(func(g *shogi.Game) error {
		var err error
		rec, err = archive.BuildRecord(ctx, meta, g, w.evaluator())
		return err
	})
	return rec, err
}

type tally struct {
	mu      sync.Mutex
	results map[string]int
	reasons map[string]int
	plies   int64
	games   int
}

func (t *tally) add(rec archive.GameRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.results == nil {
		t.results = map[string]int{}
		t.reasons = map[string]int{}
	}
	t.results[rec.Result]++
	if rec.WinReason != "" {
		t.reasons[rec.WinReason]++
	}
	t.plies += int64(rec.MoveCount)
	t.games++
}

func (t *tally) print(levels [2]ai.Level, elapsed time.Duration) {
	p := message.NewPrinter(language.English)
	fmt.Fprintln(os.Stderr, p.Sprintf("elapsed: %s, games: %d, plies: %d", elapsed, t.games, t.plies))
	if t.games == 0 {
		return
	}
	color.New(color.FgGreen).Fprintln(os.Stderr, p.Sprintf("%s (first) wins: %d", levels[shogi.First], t.results[archive.ResultFirstWin]))
	color.New(color.FgRed).Fprintln(os.Stderr, p.Sprintf("%s (second) wins: %d", levels[shogi.Second], t.results[archive.ResultSecondWin]))
	color.New(color.FgYellow).Fprintln(os.Stderr, p.Sprintf("draws: %d, unfinished: %d", t.results[archive.ResultDraw], t.results[archive.ResultUnfinished]))
	for reason, n := range t.reasons {
		fmt.Fprintln(os.Stderr, p.Sprintf("  %s: %d", reason, n))
	}
	fmt.Fprintln(os.Stderr, p.Sprintf("average length: %.1f plies", float64(t.plies)/float64(t.games)))
}

func quiet(...any) {}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func isStopRequested(stopRequested <-chan struct{}) bool {
	select {
	case <-stopRequested:
		return true
	default:
		return false
	}
}
