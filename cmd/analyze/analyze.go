package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"koma/pkg/archive"
)

type stats struct {
	games     int
	crossings int
	wins      int
	excluded  int
}

type playerStats struct {
	games       int
	byThreshold map[int]*stats
}

// main prints CSV stats on how often a player converts an eval lead.
func main() {
	inputPath := flag.String("input", "selfplay.parquet", "input self-play archive")
	thresholdsArg := flag.String("thresholds", "300,500,1000", "comma-separated eval thresholds")
	minGames := flag.Int("min-games", 1, "minimum games per player")
	parallel := flag.Int64("parallel", 4, "parquet read parallelism")
	flag.Parse()

	thresholds, err := parseIntList(*thresholdsArg)
	if err != nil {
		fatal(err)
	}
	if len(thresholds) == 0 {
		fatal(fmt.Errorf("thresholds must be non-empty"))
	}
	if *minGames <= 0 {
		fatal(fmt.Errorf("min-games must be > 0"))
	}
	sort.Ints(thresholds)

	records, err := archive.Read(*inputPath, *parallel)
	if err != nil {
		fatal(err)
	}
	players := tally(records, thresholds)
	printCSV(players, thresholds, *minGames)
}

// tally counts, per player and threshold, the games in which that player
// first reached the threshold and the games among those the player won.
// Games with no crossing or no winner count as excluded for both players.
func tally(records []archive.GameRecord, thresholds []int) map[string]*playerStats {
	players := make(map[string]*playerStats)
	get := func(name string) *playerStats {
		p := players[name]
		if p == nil {
			p = &playerStats{byThreshold: make(map[int]*stats, len(thresholds))}
			for _, th := range thresholds {
				p.byThreshold[th] = &stats{}
			}
			players[name] = p
		}
		return p
	}
	for _, record := range records {
		crossing := firstCrossingSide(record.MoveEvals, thresholds)
		winner := winnerSide(record.Result)
		sides := []struct {
			name string
			side string
		}{
			{record.SenteName, "sente"},
			{record.GoteName, "gote"},
		}
		for _, s := range sides {
			if s.name == "" {
				continue
			}
			p := get(s.name)
			p.games++
			for _, th := range thresholds {
				st := p.byThreshold[th]
				st.games++
				switch {
				case crossing[th] == "none" || winner == "none":
					st.excluded++
				case crossing[th] == s.side:
					st.crossings++
					if winner == s.side {
						st.wins++
					}
				}
			}
		}
	}
	return players
}

// firstCrossingSide reports, per threshold, which side's eval first reached
// it. Mate scores cross every threshold.
func firstCrossingSide(evals []archive.MoveEval, thresholds []int) map[int]string {
	result := make(map[int]string, len(thresholds))
	remaining := make(map[int]struct{}, len(thresholds))
	for _, th := range thresholds {
		remaining[th] = struct{}{}
		result[th] = "none"
	}
	for _, eval := range evals {
		if len(remaining) == 0 {
			break
		}
		for th := range remaining {
			if eval.ScoreType == "mate" {
				if eval.ScoreValue >= 0 {
					result[th] = "sente"
				} else {
					result[th] = "gote"
				}
				delete(remaining, th)
				continue
			}
			if eval.ScoreValue >= int32(th) {
				result[th] = "sente"
				delete(remaining, th)
				continue
			}
			if eval.ScoreValue <= -int32(th) {
				result[th] = "gote"
				delete(remaining, th)
			}
		}
	}
	return result
}

func winnerSide(result string) string {
	switch result {
	case archive.ResultFirstWin:
		return "sente"
	case archive.ResultSecondWin:
		return "gote"
	default:
		return "none"
	}
}

// parseIntList parses comma-separated integers with optional whitespace.
func parseIntList(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	values := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

func printCSV(players map[string]*playerStats, thresholds []int, minGames int) {
	fmt.Println("player,games,threshold,crossings,wins,win_rate,excluded")
	names := make([]string, 0, len(players))
	for name, p := range players {
		if p.games >= minGames {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		p := players[name]
		for _, th := range thresholds {
			st := p.byThreshold[th]
			winRate := 0.0
			if st.crossings > 0 {
				winRate = float64(st.wins) / float64(st.crossings)
			}
			fmt.Printf("%s,%d,%d,%d,%d,%.6f,%d\n", name, p.games, th, st.crossings, st.wins, winRate, st.excluded)
		}
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
