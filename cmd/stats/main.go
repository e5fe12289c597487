package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/fatih/color"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"koma/pkg/archive"
	"koma/pkg/shogi"
)

type lengthStats struct {
	binSize int
	min     int
	max     int
	seen    bool
	bins    map[int]int
}

func newLengthStats(binSize int) *lengthStats {
	return &lengthStats{
		binSize: binSize,
		bins:    make(map[int]int),
	}
}

func (ls *lengthStats) Add(plies int32) {
	value := int(plies)
	if !ls.seen {
		ls.min = value
		ls.max = value
		ls.seen = true
	} else {
		ls.min = min(ls.min, value)
		ls.max = max(ls.max, value)
	}
	ls.bins[(value/ls.binSize)*ls.binSize]++
}

// pairing tallies the results of one sente/gote name pair.
type pairing struct {
	first, second         string
	firstWins, secondWins int
	draws, unfinished     int
}

func main() {
	kifDir := flag.String("kif-dir", "", "input directory for KIF files")
	parquetPath := flag.String("parquet", "", "input self-play archive")
	binSize := flag.Int("bin-size", 20, "game length bin size in plies")
	where := flag.String("where", "", `filter expression over record fields, e.g. 'MoveCount > 50 && Result != "draw"'`)
	flag.Parse()

	if *binSize <= 0 {
		fatal(fmt.Errorf("bin-size must be > 0"))
	}
	if (*kifDir == "") == (*parquetPath == "") {
		fatal(fmt.Errorf("specify exactly one of -kif-dir or -parquet"))
	}
	filter, err := compileFilter(*where)
	if err != nil {
		fatal(err)
	}

	var records []archive.GameRecord
	failed := 0
	if *parquetPath != "" {
		records, err = archive.Read(*parquetPath, 4)
		if err != nil {
			fatal(err)
		}
	} else {
		records, failed, err = readKIFDir(*kifDir)
		if err != nil {
			fatal(err)
		}
	}

	pairings := make(map[[2]string]*pairing)
	reasons := make(map[string]int)
	lengths := newLengthStats(*binSize)
	kept := 0
	for _, rec := range records {
		ok, err := match(filter, rec)
		if err != nil {
			fatal(err)
		}
		if !ok {
			continue
		}
		kept++
		key := [2]string{rec.SenteName, rec.GoteName}
		p := pairings[key]
		if p == nil {
			p = &pairing{first: rec.SenteName, second: rec.GoteName}
			pairings[key] = p
		}
		switch rec.Result {
		case archive.ResultFirstWin:
			p.firstWins++
		case archive.ResultSecondWin:
			p.secondWins++
		case archive.ResultDraw:
			p.draws++
		default:
			p.unfinished++
		}
		if rec.WinReason != "" {
			reasons[rec.WinReason]++
		}
		lengths.Add(rec.MoveCount)
	}

	pr := message.NewPrinter(language.English)
	if *parquetPath != "" {
		pr.Printf("input parquet: %s\n", *parquetPath)
	} else {
		pr.Printf("kif dir: %s\n", *kifDir)
		pr.Printf("failed files: %d\n", failed)
	}
	pr.Printf("games: %d (matched %d)\n", len(records), kept)

	keys := make([][2]string, 0, len(pairings))
	for k := range pairings {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	fmt.Println("results by pairing:")
	win := color.New(color.FgGreen)
	loss := color.New(color.FgRed)
	for _, k := range keys {
		p := pairings[k]
		pr.Printf("  %s vs %s: ", p.first, p.second)
		win.Print(pr.Sprintf("%d", p.firstWins))
		fmt.Print("-")
		loss.Print(pr.Sprintf("%d", p.secondWins))
		pr.Printf(" draws=%d unfinished=%d\n", p.draws, p.unfinished)
	}

	fmt.Println("end reasons:")
	names := make([]string, 0, len(reasons))
	for r := range reasons {
		names = append(names, r)
	}
	sort.Strings(names)
	for _, r := range names {
		pr.Printf("  %s,%d\n", r, reasons[r])
	}

	if lengths.seen {
		pr.Printf("length range: %d-%d\n", lengths.min, lengths.max)
	}
	pr.Printf("length distribution (bin size=%d):\n", lengths.binSize)
	bins := make([]int, 0, len(lengths.bins))
	for start := range lengths.bins {
		bins = append(bins, start)
	}
	sort.Ints(bins)
	for _, start := range bins {
		fmt.Printf("%d-%d,%d\n", start, start+lengths.binSize-1, lengths.bins[start])
	}
}

// compileFilter compiles a boolean expression over GameRecord fields. An
// empty expression matches everything.
func compileFilter(code string) (*vm.Program, error) {
	if code == "" {
		return nil, nil
	}
	program, err := expr.Compile(code, expr.Env(archive.GameRecord{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("-where: %w", err)
	}
	return program, nil
}

func match(program *vm.Program, rec archive.GameRecord) (bool, error) {
	if program == nil {
		return true, nil
	}
	out, err := expr.Run(program, rec)
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

// readKIFDir summarizes every KIF under dir the way the archive stores
// games. Files that fail to parse or replay are counted and skipped.
func readKIFDir(dir string) ([]archive.GameRecord, int, error) {
	files, err := shogi.CollectKIF(dir)
	if err != nil {
		return nil, 0, err
	}
	if len(files) == 0 {
		return nil, 0, fmt.Errorf("no .kif files found in %s", dir)
	}
	records := make([]archive.GameRecord, 0, len(files))
	failed := 0
	for _, path := range files {
		k, err := shogi.LoadKIF(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to parse %s: %v\n", path, err)
			failed++
			continue
		}
		g, err := k.Replay()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to replay %s: %v\n", path, err)
			failed++
			continue
		}
		meta := archive.Meta{ID: path, Names: [2]string{k.Players.FirstName, k.Players.SecondName}}
		rec, err := archive.BuildRecord(context.Background(), meta, g, nil)
		if err != nil {
			failed++
			continue
		}
		archive.ApplyKIF(&rec, k)
		records = append(records, rec)
	}
	return records, failed, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
