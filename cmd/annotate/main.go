// Command annotate replays every KIF file in a directory, scores each
// position and writes the games to a self-play style parquet archive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"koma/pkg/archive"
	"koma/pkg/match"
	"koma/pkg/shogi"
	"koma/pkg/usi"
)

func main() {
	configPath := flag.String("config", "", "path to config.json (default: search upward)")
	inputDir := flag.String("input", "test_kif", "input directory for KIF files")
	outputPath := flag.String("output", "annotated.parquet", "output parquet file")
	processNum := flag.Int("process-num", 1, "number of parallel workers")
	evalMode := flag.String("eval", "engine", "per-ply scores: material or engine")
	perEvalTimeout := flag.Duration("timeout", 10*time.Second, "timeout per game")
	flag.Parse()

	if *evalMode != "engine" && *evalMode != "material" {
		fatal(fmt.Errorf("unknown -eval mode %q", *evalMode))
	}
	cfg, root, err := match.ResolveConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	files, err := shogi.CollectKIF(*inputDir)
	if err != nil {
		fatal(err)
	}
	if len(files) == 0 {
		fatal(fmt.Errorf("no .kif files found in %s", *inputDir))
	}

	workers := *processNum
	if workers <= 0 {
		workers = 1
	}
	if workers > len(files) {
		workers = len(files)
	}
	if dir := filepath.Dir(*outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fatal(err)
		}
	}

	jobs := make(chan string)
	results := make(chan archive.GameRecord, workers)
	writeErr := make(chan error, 1)
	var writeWg sync.WaitGroup
	writeWg.Add(1)
	go func() {
		defer writeWg.Done()
		writeErr <- archive.Write(*outputPath, results, int64(workers))
	}()

	evaluators := make([]archive.Evaluator, 0, workers)
	for i := 0; i < workers; i++ {
		if *evalMode == "material" {
			evaluators = append(evaluators, archive.MaterialEvaluator())
			continue
		}
		session, err := usi.Launch(context.Background(), cfg, root)
		if err != nil {
			fatal(err)
		}
		defer session.Close()
		evaluators = append(evaluators, archive.EngineEvaluator(session, cfg.Millis))
	}

	var wg sync.WaitGroup
	for _, eval := range evaluators {
		wg.Add(1)
		go func(eval archive.Evaluator) {
			defer wg.Done()
			for path := range jobs {
				record, err := annotate(path, eval, *perEvalTimeout)
				if err != nil {
					fmt.Fprintf(os.Stderr, "failed to process %s: %v\n", path, err)
					continue
				}
				results <- record
			}
		}(eval)
	}

	for _, path := range files {
		jobs <- path
	}
	close(jobs)
	wg.Wait()
	close(results)
	writeWg.Wait()
	if err := <-writeErr; err != nil {
		fatal(err)
	}
}

// annotate replays one KIF and scores it within timeout.
func annotate(path string, eval archive.Evaluator, timeout time.Duration) (archive.GameRecord, error) {
	k, err := shogi.LoadKIF(path)
	if err != nil {
		return archive.GameRecord{}, err
	}
	g, err := k.Replay()
	if err != nil {
		return archive.GameRecord{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	meta := archive.Meta{
		ID:    filepath.Base(path),
		Names: [2]string{k.Players.FirstName, k.Players.SecondName},
	}
	rec, err := archive.BuildRecord(ctx, meta, g, eval)
	if err != nil {
		return archive.GameRecord{}, err
	}
	archive.ApplyKIF(&rec, k)
	return rec, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
