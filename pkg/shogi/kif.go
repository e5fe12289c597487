package shogi

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// KIF is a game read from a KIF file.
type KIF struct {
	Initial *Position
	Moves   []Move
	Players Players
	// Result is "first_win", "second_win", "draw", "abort" or "unknown".
	Result   string
	Terminal string
	// FoulEnd marks games ending in 反則勝ち/反則負け; the last move may be illegal.
	FoulEnd bool
}

// Players holds the names and ratings from a KIF header.
type Players struct {
	FirstName    string
	FirstRating  int32
	SecondName   string
	SecondRating int32
}

var moveLineRe = regexp.MustCompile(`^\s*(\d+)\s+(.+?)\s+\(`)
var terminalLineRe = regexp.MustCompile(`^\s*(\d+)\s+(.+?)\s*$`)
var fromSquareRe = regexp.MustCompile(`\((\d)(\d)\)`)
var nameRatingRe = regexp.MustCompile(`^(.+?)\((\d+)\)$`)

// LoadKIF reads a KIF file in Shift-JIS or UTF-8.
func LoadKIF(path string) (*KIF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	k, err := ReadKIF(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return k, nil
}

// ReadKIF parses a KIF document.
func ReadKIF(r io.Reader) (*KIF, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text, err := decodeKIF(data)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}
	return parseKIFLines(lines)
}

func parseKIFLines(lines []string) (*KIF, error) {
	initial, err := initialPositionFromKIF(lines)
	if err != nil {
		return nil, err
	}
	moves, err := parseKIFMoves(lines)
	if err != nil {
		return nil, err
	}
	terminal, ply := findTerminalMove(lines)
	return &KIF{
		Initial:  initial,
		Moves:    moves,
		Players:  parsePlayers(lines),
		Result:   resultFromTerminal(terminal, ply),
		Terminal: terminal,
		FoulEnd:  terminal == "反則勝ち" || terminal == "反則負け",
	}, nil
}

func decodeKIF(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), japanese.ShiftJIS.NewDecoder()))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(decoded) {
		return "", errors.New("failed to decode Shift-JIS KIF")
	}
	return string(decoded), nil
}

// Replay plays the KIF moves into a new game. A final illegal move in a
// game that ended by foul is dropped.
func (k *KIF) Replay() (*Game, error) {
	g := NewGameFrom(k.Initial)
	for i, m := range k.Moves {
		if err := g.Apply(m); err != nil {
			if k.FoulEnd && i == len(k.Moves)-1 {
				break
			}
			return nil, fmt.Errorf("move %d (%s): %w", i+1, m.USI(), err)
		}
	}
	return g, nil
}

func parseKIFMoves(lines []string) ([]Move, error) {
	var moves []Move
	var prevDest *Square
	for i, line := range lines {
		match := moveLineRe.FindStringSubmatch(line)
		if len(match) == 0 {
			continue
		}
		text := strings.TrimSpace(match[2])
		if text == "" {
			continue
		}
		if isTerminalMove(text) {
			break
		}
		move, err := parseKIFMoveToken(text, prevDest)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		moves = append(moves, move)
		dest := move.To
		prevDest = &dest
	}
	return moves, nil
}

func parseKIFMoveToken(token string, prevDest *Square) (Move, error) {
	work := strings.TrimSpace(token)
	var dest Square
	if strings.HasPrefix(work, "同") {
		if prevDest == nil {
			return Move{}, errors.New("same-square move without previous destination")
		}
		dest = *prevDest
		work = strings.TrimLeft(strings.TrimPrefix(work, "同"), " 　")
	} else {
		runes := []rune(work)
		if len(runes) < 2 {
			return Move{}, fmt.Errorf("invalid move token: %s", token)
		}
		file, ok := parseFileRune(runes[0])
		if !ok {
			return Move{}, fmt.Errorf("invalid destination file in %s", token)
		}
		rank, ok := parseRankRune(runes[1])
		if !ok {
			return Move{}, fmt.Errorf("invalid destination rank in %s", token)
		}
		dest = SquareAt(file, rank)
		work = string(runes[2:])
	}

	from, hasFrom := parseFromSquare(work)
	work = strings.TrimSpace(fromSquareRe.ReplaceAllString(work, ""))

	def, rest, err := parseKIFPiece(work)
	if err != nil {
		return Move{}, err
	}
	promote := PromoteNo
	drop := false
	switch {
	case strings.HasPrefix(rest, "不成"):
	case strings.HasPrefix(rest, "成"):
		promote = PromoteYes
	case strings.HasPrefix(rest, "打"):
		drop = true
	}
	if drop {
		if def.promoted {
			return Move{}, errors.New("cannot drop promoted piece")
		}
		return NewDrop(def.kind, dest), nil
	}
	if !hasFrom {
		return Move{}, errors.New("missing source square")
	}
	if def.promoted && promote == PromoteYes {
		return Move{}, errors.New("promoting an already promoted piece")
	}
	return NewMove(from, dest, promote), nil
}

func isTerminalMove(token string) bool {
	switch token {
	case "投了", "中断", "持将棋", "千日手", "詰み", "切れ負け", "反則勝ち", "反則負け", "入玉勝ち", "勝ち宣言":
		return true
	default:
		return false
	}
}

func parseFromSquare(text string) (Square, bool) {
	match := fromSquareRe.FindStringSubmatch(text)
	if len(match) != 3 {
		return Square{}, false
	}
	file := int(match[1][0] - '0')
	rank := int(match[2][0] - '0')
	if file < 1 || file > 9 || rank < 1 || rank > 9 {
		return Square{}, false
	}
	return SquareAt(file, rank), true
}

func parseFileRune(r rune) (int, bool) {
	if r >= '1' && r <= '9' {
		return int(r - '0'), true
	}
	if r >= '１' && r <= '９' {
		return int(r-'１') + 1, true
	}
	return 0, false
}

const rankKanji = "一二三四五六七八九"

func parseRankRune(r rune) (int, bool) {
	for i, k := range []rune(rankKanji) {
		if k == r {
			return i + 1, true
		}
	}
	return 0, false
}

type kifPieceDef struct {
	name     string
	kind     PieceKind
	promoted bool
}

// Longer names first so that 成銀 wins over 銀.
var kifPieceDefs = []kifPieceDef{
	{name: "成銀", kind: Silver, promoted: true},
	{name: "成桂", kind: Knight, promoted: true},
	{name: "成香", kind: Lance, promoted: true},
	{name: "成歩", kind: Pawn, promoted: true},
	{name: "全", kind: Silver, promoted: true},
	{name: "圭", kind: Knight, promoted: true},
	{name: "杏", kind: Lance, promoted: true},
	{name: "と", kind: Pawn, promoted: true},
	{name: "馬", kind: Bishop, promoted: true},
	{name: "龍", kind: Rook, promoted: true},
	{name: "竜", kind: Rook, promoted: true},
	{name: "王", kind: King},
	{name: "玉", kind: King},
	{name: "飛", kind: Rook},
	{name: "角", kind: Bishop},
	{name: "金", kind: Gold},
	{name: "銀", kind: Silver},
	{name: "桂", kind: Knight},
	{name: "香", kind: Lance},
	{name: "歩", kind: Pawn},
}

func parseKIFPiece(text string) (kifPieceDef, string, error) {
	for _, def := range kifPieceDefs {
		if strings.HasPrefix(text, def.name) {
			return def, strings.TrimPrefix(text, def.name), nil
		}
	}
	return kifPieceDef{}, "", fmt.Errorf("unknown piece in %s", text)
}

func parsePlayers(lines []string) Players {
	firstName, firstRating := parseNameRating(headerValue(lines, "先手"))
	secondName, secondRating := parseNameRating(headerValue(lines, "後手"))
	return Players{
		FirstName:    firstName,
		FirstRating:  firstRating,
		SecondName:   secondName,
		SecondRating: secondRating,
	}
}

func headerValue(lines []string, key string) string {
	prefixes := []string{key + "：", key + ":"}
	for _, line := range lines {
		trim := strings.TrimSpace(line)
		for _, prefix := range prefixes {
			if strings.HasPrefix(trim, prefix) {
				return strings.TrimSpace(strings.TrimPrefix(trim, prefix))
			}
		}
	}
	return ""
}

func parseNameRating(raw string) (string, int32) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}
	match := nameRatingRe.FindStringSubmatch(raw)
	if len(match) == 3 {
		var value int
		_, _ = fmt.Sscanf(match[2], "%d", &value)
		return strings.TrimSpace(match[1]), int32(value)
	}
	return raw, 0
}

func findTerminalMove(lines []string) (string, int) {
	ply := 0
	for _, line := range lines {
		match := moveLineRe.FindStringSubmatch(line)
		if len(match) == 0 {
			// Terminal markers may come without a clock column.
			match = terminalLineRe.FindStringSubmatch(line)
		}
		if len(match) == 0 {
			continue
		}
		text := strings.TrimSpace(match[2])
		if text == "" {
			continue
		}
		ply++
		if isTerminalMove(text) {
			return text, ply
		}
	}
	return "", 0
}

func resultFromTerminal(token string, ply int) string {
	switch token {
	case "":
		return "unknown"
	case "中断":
		return "abort"
	case "持将棋", "千日手":
		return "draw"
	case "反則勝ち", "詰み", "入玉勝ち", "勝ち宣言":
		return winnerFromPly(ply)
	case "投了", "切れ負け", "反則負け":
		return winnerFromPly(ply + 1)
	default:
		return "unknown"
	}
}

// winnerFromPly names the side to move at ply.
func winnerFromPly(ply int) string {
	if ply%2 == 1 {
		return "first_win"
	}
	return "second_win"
}

// CollectKIF lists .kif files under root, sorted.
func CollectKIF(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".kif") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func initialPositionFromKIF(lines []string) (*Position, error) {
	for _, line := range lines {
		trim := strings.TrimSpace(line)
		if strings.HasPrefix(trim, "手合割") && strings.Contains(trim, "平手") {
			return InitialPosition(), nil
		}
	}

	boardLines := collectBoardLines(lines)
	if len(boardLines) == 0 {
		// Bare move lists start from the even position.
		return InitialPosition(), nil
	}
	board, err := parseBoardLines(boardLines)
	if err != nil {
		return nil, err
	}
	hands, err := parseHandsCounts(lines)
	if err != nil {
		return nil, err
	}
	hand := buildHands(hands[First], hands[Second])
	if hand == "" {
		hand = "-"
	}
	pos, _, err := ParseSFEN(fmt.Sprintf("%s %s %s 1", board, parseTurn(lines), hand))
	return pos, err
}

func collectBoardLines(lines []string) []string {
	var board []string
	for _, line := range lines {
		trim := strings.TrimSpace(line)
		if !strings.HasPrefix(trim, "|") {
			continue
		}
		// Rows end in "|一" and so on; drop the rank label.
		if end := strings.LastIndex(trim, "|"); end > 0 {
			board = append(board, trim[:end+1])
		}
	}
	return board
}

func parseBoardLines(lines []string) (string, error) {
	if len(lines) < 9 {
		return "", fmt.Errorf("board lines must be 9 rows, got %d", len(lines))
	}
	rows := make([]string, 0, 9)
	for i := 0; i < 9; i++ {
		row, err := parseBoardRow(lines[i])
		if err != nil {
			return "", fmt.Errorf("row %d: %w", i+1, err)
		}
		rows = append(rows, row)
	}
	return strings.Join(rows, "/"), nil
}

func parseBoardRow(line string) (string, error) {
	trim := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(line), "|"), "|")
	runes := []rune(trim)
	var cells []string
	for i := 0; i < len(runes); {
		r := runes[i]
		switch r {
		case ' ', '\t', '　':
			i++
			continue
		case '・':
			cells = append(cells, "")
			i++
			continue
		}
		second := false
		if r == 'v' {
			second = true
			i++
			if i >= len(runes) {
				return "", errors.New("dangling gote marker")
			}
		}
		def, rest, err := parseKIFPiece(string(runes[i:]))
		if err != nil {
			return "", err
		}
		side := First
		if second {
			side = Second
		}
		cells = append(cells, Piece{Kind: def.kind, Side: side, Promoted: def.promoted}.String())
		i = len(runes) - len([]rune(rest))
	}
	if len(cells) != 9 {
		return "", fmt.Errorf("expected 9 cells, got %d", len(cells))
	}
	var b strings.Builder
	empty := 0
	for _, cell := range cells {
		if cell == "" {
			empty++
			continue
		}
		if empty > 0 {
			fmt.Fprintf(&b, "%d", empty)
			empty = 0
		}
		b.WriteString(cell)
	}
	if empty > 0 {
		fmt.Fprintf(&b, "%d", empty)
	}
	return b.String(), nil
}

func parseTurn(lines []string) string {
	for _, line := range lines {
		trim := strings.TrimSpace(line)
		if strings.HasPrefix(trim, "手番") {
			if strings.Contains(trim, "後手") {
				return "w"
			}
			if strings.Contains(trim, "先手") {
				return "b"
			}
		}
	}
	return "b"
}

func parseHandsCounts(lines []string) ([2]Hand, error) {
	var hands [2]Hand
	for _, line := range lines {
		trim := strings.TrimSpace(line)
		side := First
		switch {
		case strings.HasPrefix(trim, "先手の持駒"):
		case strings.HasPrefix(trim, "後手の持駒"):
			side = Second
		default:
			continue
		}
		counts, err := parseHandLine(trim)
		if err != nil {
			return hands, err
		}
		for k, n := range counts {
			hands[side][k] += n
		}
	}
	return hands, nil
}

func parseHandLine(line string) (Hand, error) {
	parts := strings.SplitN(line, "：", 2)
	if len(parts) != 2 {
		parts = strings.SplitN(line, ":", 2)
	}
	if len(parts) != 2 {
		return Hand{}, fmt.Errorf("invalid hand line: %s", line)
	}
	var hand Hand
	text := strings.TrimSpace(parts[1])
	if text == "なし" || text == "" {
		return hand, nil
	}
	for text != "" {
		def, rest, err := parseKIFPiece(text)
		if err != nil || def.promoted || def.kind == King {
			return Hand{}, fmt.Errorf("unknown hand piece in %s", text)
		}
		runes := []rune(rest)
		count, consumed := parseCount(runes)
		if consumed == 0 {
			count = 1
		}
		hand[def.kind] += count
		text = strings.TrimLeft(string(runes[consumed:]), " 　")
	}
	return hand, nil
}

func parseCount(runes []rune) (int, int) {
	if len(runes) > 0 && runes[0] >= '0' && runes[0] <= '9' {
		val, i := 0, 0
		for i < len(runes) && runes[i] >= '0' && runes[i] <= '9' {
			val = val*10 + int(runes[i]-'0')
			i++
		}
		return val, i
	}
	value, consumed := 0, 0
	for consumed < len(runes) {
		r := runes[consumed]
		if r == '十' {
			if value == 0 {
				value = 1
			}
			value *= 10
			consumed++
			continue
		}
		n, ok := parseRankRune(r)
		if !ok {
			break
		}
		if value >= 10 {
			value += n
		} else {
			value = value*10 + n
		}
		consumed++
	}
	if value == 0 {
		return 0, 0
	}
	return value, consumed
}

var fullWidthDigits = []rune("０１２３４５６７８９")

var kifNames = map[PieceKind]string{
	King: "玉", Rook: "飛", Bishop: "角", Gold: "金",
	Silver: "銀", Knight: "桂", Lance: "香", Pawn: "歩",
}

var kifPromotedNames = map[PieceKind]string{
	Rook: "龍", Bishop: "馬", Silver: "成銀", Knight: "成桂", Lance: "成香", Pawn: "と",
}

func kifPieceName(p Piece) string {
	if p.Promoted {
		return kifPromotedNames[p.Kind]
	}
	return kifNames[p.Kind]
}

func kifSquare(sq Square) string {
	return string(fullWidthDigits[sq.File()]) + string([]rune(rankKanji)[sq.Row])
}

// FormatKIF renders the game's history as a KIF document.
func FormatKIF(g *Game, started time.Time) string {
	var b strings.Builder
	b.WriteString("# ---- koma kifu ----\n")
	fmt.Fprintf(&b, "開始日時：%s\n", started.Format("2006/01/02 15:04:05"))
	if g.initial == *InitialPosition() {
		b.WriteString("手合割：平手\n")
	} else {
		writeKIFDiagram(&b, &g.initial)
	}
	b.WriteString("先手：\n後手：\n")
	b.WriteString("手数----指手---------消費時間--\n")

	var prev *Square
	for i, rec := range g.history {
		var body string
		if prev != nil && *prev == rec.Move.To {
			body = "同　"
		} else {
			body = kifSquare(rec.Move.To)
		}
		switch {
		case rec.Move.IsDrop():
			body += kifPieceName(rec.Piece) + "打"
		default:
			body += kifPieceName(rec.Piece)
			if rec.Promoted {
				body += "成"
			} else if !rec.Piece.Promoted && rec.Piece.Kind.Promotable() &&
				(InPromotionZone(rec.Side, rec.Move.From.Row) || InPromotionZone(rec.Side, rec.Move.To.Row)) {
				body += "不成"
			}
			body += fmt.Sprintf("(%d%d)", rec.Move.From.File(), rec.Move.From.Rank())
		}
		fmt.Fprintf(&b, "%4d %s ( 0:00/00:00:00)\n", i+1, body)
		to := rec.Move.To
		prev = &to
	}

	n := len(g.history)
	if g.status == Ended {
		winner, ok := g.Winner()
		switch {
		case !ok:
			fmt.Fprintf(&b, "%4d 千日手\n", n+1)
			fmt.Fprintf(&b, "まで%d手で千日手\n", n)
		case winner == g.pos.turn:
			fmt.Fprintf(&b, "%4d 反則勝ち\n", n+1)
			fmt.Fprintf(&b, "まで%d手で%sの反則勝ち\n", n, kifSideName(winner))
		default:
			fmt.Fprintf(&b, "%4d 投了\n", n+1)
			fmt.Fprintf(&b, "まで%d手で%sの勝ち\n", n, kifSideName(winner))
		}
	}
	return b.String()
}

func kifSideName(side Side) string {
	if side == Second {
		return "後手"
	}
	return "先手"
}

func writeKIFDiagram(b *strings.Builder, pos *Position) {
	fmt.Fprintf(b, "後手の持駒：%s\n", kifHand(pos.hands[Second]))
	b.WriteString("  ９ ８ ７ ６ ５ ４ ３ ２ １\n")
	b.WriteString("+---------------------------+\n")
	for r := 0; r < 9; r++ {
		b.WriteString("|")
		for c := 0; c < 9; c++ {
			p := pos.board[r][c]
			switch {
			case p.Empty():
				b.WriteString(" ・")
			case p.Side == Second:
				b.WriteString("v" + kifDiagramName(p))
			default:
				b.WriteString(" " + kifDiagramName(p))
			}
		}
		fmt.Fprintf(b, "|%s\n", string([]rune(rankKanji)[r]))
	}
	b.WriteString("+---------------------------+\n")
	fmt.Fprintf(b, "先手の持駒：%s\n", kifHand(pos.hands[First]))
	if pos.turn == Second {
		b.WriteString("手番：後手\n")
	}
}

// kifDiagramName uses one-character names so diagram cells stay aligned.
func kifDiagramName(p Piece) string {
	if !p.Promoted {
		return kifNames[p.Kind]
	}
	switch p.Kind {
	case Silver:
		return "全"
	case Knight:
		return "圭"
	case Lance:
		return "杏"
	}
	return kifPromotedNames[p.Kind]
}

func kifHand(h Hand) string {
	var parts []string
	for _, k := range HandKinds {
		n := h[k]
		if n == 0 {
			continue
		}
		part := kifNames[k]
		if n > 1 {
			part += kanjiCount(n)
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "なし"
	}
	return strings.Join(parts, "　")
}

func kanjiCount(n int) string {
	digits := []rune(rankKanji)
	if n < 10 {
		return string(digits[n-1])
	}
	out := "十"
	if n/10 > 1 {
		out = string(digits[n/10-1]) + out
	}
	if n%10 > 0 {
		out += string(digits[n%10-1])
	}
	return out
}

// WriteKIF writes FormatKIF output, encoded as Shift-JIS when shiftJIS is set.
func WriteKIF(w io.Writer, g *Game, started time.Time, shiftJIS bool) error {
	text := FormatKIF(g, started)
	if !shiftJIS {
		_, err := io.WriteString(w, text)
		return err
	}
	bw := bufio.NewWriter(w)
	tw := transform.NewWriter(bw, japanese.ShiftJIS.NewEncoder())
	if _, err := io.WriteString(tw, text); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return bw.Flush()
}
