package shogi

// repetitionLimit is the occurrence count that ends the game.
const repetitionLimit = 4

type ledgerEntry struct {
	key string
	// check is true when the side to move in this position is in check.
	check bool
	// mover produced the position; the initial entry has none.
	mover   Side
	initial bool
}

// repetitionLedger records every position reached in the current line.
type repetitionLedger struct {
	entries []ledgerEntry
	counts  map[string]int
}

func newRepetitionLedger(pos *Position) *repetitionLedger {
	l := &repetitionLedger{counts: make(map[string]int)}
	l.entries = append(l.entries, ledgerEntry{key: pos.Key(), check: pos.InCheck(pos.turn), initial: true})
	l.counts[l.entries[0].key] = 1
	return l
}

// repetitionResult describes a fourfold repetition.
type repetitionResult struct {
	repeated bool
	// checker lost by giving continuous check; valid when perpetual is true.
	perpetual bool
	checker   Side
}

// add records the position reached by mover and reports whether it
// completed a fourfold repetition.
func (l *repetitionLedger) add(pos *Position, mover Side) repetitionResult {
	entry := ledgerEntry{key: pos.Key(), check: pos.InCheck(pos.turn), mover: mover}
	l.entries = append(l.entries, entry)
	l.counts[entry.key]++
	if l.counts[entry.key] < repetitionLimit {
		return repetitionResult{}
	}

	first := 0
	for i, e := range l.entries {
		if e.key == entry.key {
			first = i
			break
		}
	}
	span := l.entries[first+1:]
	for _, side := range []Side{First, Second} {
		if continuousCheck(span, side) {
			return repetitionResult{repeated: true, perpetual: true, checker: side}
		}
	}
	return repetitionResult{repeated: true}
}

// continuousCheck reports whether every position side produced in span
// left the opponent in check.
func continuousCheck(span []ledgerEntry, side Side) bool {
	seen := false
	for _, e := range span {
		if e.initial || e.mover != side {
			continue
		}
		if !e.check {
			return false
		}
		seen = true
	}
	return seen
}
