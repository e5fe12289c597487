package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"koma/pkg/archive"
	"koma/pkg/shogi"
)

// posInfo holds the SFEN string and move counts for a qualified position.
type posInfo struct {
	sfen  string
	moves map[string]uint32
}

// game is one input game: where it starts and what was played.
type game struct {
	start *shogi.Position
	moves []shogi.Move
}

// source yields input games; each call to each re-reads the input.
type source struct {
	total int
	each  func(fn func(game))
}

func main() {
	inputDir := flag.String("kif-dir", "", "input directory for KIF files")
	parquetPath := flag.String("parquet", "", "input self-play archive")
	outputPath := flag.String("output", "book.db", "output book file")
	threshold := flag.Int("threshold", 3, "minimum occurrence count to include in book")
	maxPly := flag.Int("max-ply", 60, "maximum ply to process per game")
	workers := flag.Int("workers", 0, "number of parallel workers (0=NumCPU)")
	flag.Parse()

	if *workers <= 0 {
		*workers = runtime.NumCPU()
	}
	if (*inputDir == "") == (*parquetPath == "") {
		fatal(fmt.Errorf("specify exactly one of -kif-dir or -parquet"))
	}

	start := time.Now()
	var src source
	var err error
	if *inputDir != "" {
		src, err = kifSource(*inputDir)
	} else {
		src, err = archiveSource(*parquetPath)
	}
	if err != nil {
		fatal(err)
	}
	if src.total == 0 {
		fatal(fmt.Errorf("no games found"))
	}
	fmt.Fprintf(os.Stderr, "games: %d, workers: %d, max-ply: %d, threshold: %d\n",
		src.total, *workers, *maxPly, *threshold)

	// Pass 1 keeps only packed keys; SFEN strings are built in pass 2 for
	// the positions that qualify.
	fmt.Fprintf(os.Stderr, "pass 1: counting positions...\n")
	counts, errGames := runPass1(src, *maxPly, *workers)

	total := 0
	for _, c := range counts {
		total += int(c)
	}
	fmt.Fprintf(os.Stderr, "  unique positions: %d, total occurrences: %d, game errors: %d\n",
		len(counts), total, errGames)

	qual := make(map[shogi.Packed256]bool)
	for k, c := range counts {
		if c >= uint32(*threshold) {
			qual[k] = true
		}
	}
	counts = nil
	runtime.GC()

	fmt.Fprintf(os.Stderr, "  qualified positions (>=%d): %d\n", *threshold, len(qual))
	if len(qual) == 0 {
		fmt.Fprintln(os.Stderr, "no positions meet the threshold; nothing to write")
		return
	}

	fmt.Fprintf(os.Stderr, "pass 2: collecting moves...\n")
	data := runPass2(src, *maxPly, qual, *workers)
	fmt.Fprintf(os.Stderr, "  book entries: %d\n", len(data))

	if err := writeBook(*outputPath, data); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d positions) in %v\n",
		*outputPath, len(data), time.Since(start).Round(time.Millisecond))
}

func kifSource(dir string) (source, error) {
	files, err := shogi.CollectKIF(dir)
	if err != nil {
		return source{}, err
	}
	return source{
		total: len(files),
		each: func(fn func(game)) {
			for _, path := range files {
				k, err := shogi.LoadKIF(path)
				if err != nil {
					fn(game{})
					continue
				}
				fn(game{start: k.Initial, moves: k.Moves})
			}
		},
	}, nil
}

func archiveSource(path string) (source, error) {
	records, err := archive.Read(path, 4)
	if err != nil {
		return source{}, err
	}
	return source{
		total: len(records),
		each: func(fn func(game)) {
			for _, rec := range records {
				g, err := recordGame(rec)
				if err != nil {
					g = game{}
				}
				fn(g)
			}
		},
	}, nil
}

func recordGame(rec archive.GameRecord) (game, error) {
	start, _, err := shogi.ParseSFEN(rec.StartSFEN)
	if err != nil {
		return game{}, err
	}
	tokens := rec.MoveList()
	moves := make([]shogi.Move, 0, len(tokens))
	for _, tok := range tokens {
		m, err := shogi.ParseUSIMove(tok)
		if err != nil {
			return game{}, err
		}
		moves = append(moves, m)
	}
	return game{start: start, moves: moves}, nil
}

// iteratePositions replays g up to maxPly and calls fn for each position
// that has a following move. pos is borrowed and must not be stored.
func iteratePositions(g game, maxPly int, fn func(packed shogi.Packed256, pos *shogi.Position, ply int, move string)) error {
	if g.start == nil {
		return fmt.Errorf("unreadable game")
	}
	pos := g.start.Clone()
	limit := maxPly
	if limit > len(g.moves) {
		limit = len(g.moves)
	}
	for i := 0; i < limit; i++ {
		m := g.moves[i]
		if !m.IsDrop() && m.Promote == shogi.PromoteUnset && pos.MustPromote(m) {
			m.Promote = shogi.PromoteYes
		}
		if packed, err := shogi.PackPosition(pos); err == nil {
			fn(packed, pos, i+1, m.USI())
		}
		if _, err := pos.Apply(m); err != nil {
			return err
		}
	}
	return nil
}

// feed streams games into ch and closes it.
func feed(src source, ch chan<- game) {
	src.each(func(g game) {
		ch <- g
	})
	close(ch)
}

func runPass1(src source, maxPly, workers int) (map[shogi.Packed256]uint32, int) {
	counts := make(map[shogi.Packed256]uint32)
	var mu sync.Mutex
	var processed, errCount atomic.Int64

	ch := make(chan game, workers*4)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := make([]shogi.Packed256, 0, 64)
			for g := range ch {
				batch = batch[:0]
				err := iteratePositions(g, maxPly, func(packed shogi.Packed256, _ *shogi.Position, _ int, _ string) {
					batch = append(batch, packed)
				})
				if err != nil {
					errCount.Add(1)
				}
				if len(batch) > 0 {
					mu.Lock()
					for _, p := range batch {
						counts[p]++
					}
					mu.Unlock()
				}
				if n := processed.Add(1); n%10000 == 0 {
					fmt.Fprintf(os.Stderr, "\r  %d/%d", n, src.total)
				}
			}
		}()
	}
	feed(src, ch)
	wg.Wait()
	fmt.Fprintf(os.Stderr, "\r  %d/%d\n", processed.Load(), src.total)
	return counts, int(errCount.Load())
}

func runPass2(src source, maxPly int, qual map[shogi.Packed256]bool, workers int) map[shogi.Packed256]*posInfo {
	data := make(map[shogi.Packed256]*posInfo)
	var mu sync.Mutex
	var processed atomic.Int64

	type localEntry struct {
		packed shogi.Packed256
		sfen   string
		move   string
	}

	ch := make(chan game, workers*4)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := make([]localEntry, 0, 16)
			for g := range ch {
				batch = batch[:0]
				_ = iteratePositions(g, maxPly, func(packed shogi.Packed256, pos *shogi.Position, ply int, move string) {
					if !qual[packed] {
						return
					}
					batch = append(batch, localEntry{packed, pos.SFEN(ply), move})
				})
				if len(batch) > 0 {
					mu.Lock()
					for _, e := range batch {
						info := data[e.packed]
						if info == nil {
							info = &posInfo{sfen: e.sfen, moves: make(map[string]uint32)}
							data[e.packed] = info
						}
						info.moves[e.move]++
					}
					mu.Unlock()
				}
				if n := processed.Add(1); n%10000 == 0 {
					fmt.Fprintf(os.Stderr, "\r  %d/%d", n, src.total)
				}
			}
		}()
	}
	feed(src, ch)
	wg.Wait()
	fmt.Fprintf(os.Stderr, "\r  %d/%d\n", processed.Load(), src.total)
	return data
}

// writeBook writes data in the YaneuraOu DB format.
func writeBook(path string, data map[shogi.Packed256]*posInfo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "#YANEURAOU-DB2016 1.00")

	entries := make([]*posInfo, 0, len(data))
	for _, info := range data {
		entries = append(entries, info)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].sfen < entries[j].sfen
	})

	for _, e := range entries {
		fmt.Fprintf(w, "sfen %s\n", e.sfen)
		type mc struct {
			move  string
			count uint32
		}
		ms := make([]mc, 0, len(e.moves))
		for m, c := range e.moves {
			ms = append(ms, mc{m, c})
		}
		sort.Slice(ms, func(i, j int) bool {
			if ms[i].count != ms[j].count {
				return ms[i].count > ms[j].count
			}
			return ms[i].move < ms[j].move
		})
		// <move> <response> <eval> <depth> <count>
		for _, m := range ms {
			fmt.Fprintf(w, "%s none 0 0 %d\n", m.move, m.count)
		}
	}
	return w.Flush()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
