package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"koma/pkg/ai"
	"koma/pkg/shogi"
)

var (
	ErrBusy      = errors.New("a move request is already in flight")
	ErrHumanTurn = errors.New("side to move is played by a human")
	ErrStale     = errors.New("game changed while the move was requested")
)

// Request is what a MoveSource gets: a private copy of the position.
type Request struct {
	Position *shogi.Position
	Side     shogi.Side
	Ply      int
	Legal    []shogi.Move
}

// MoveSource produces a move for the side to move. Returning an error, or a
// move that is not legal, makes the controller fall back to the heuristic.
type MoveSource interface {
	RequestMove(ctx context.Context, req Request) (shogi.Move, error)
}

// LocalSource plays with the built-in engine.
type LocalSource struct {
	Engine *ai.Engine
}

func (s LocalSource) RequestMove(ctx context.Context, req Request) (shogi.Move, error) {
	if err := ctx.Err(); err != nil {
		return shogi.Move{}, err
	}
	return s.Engine.Choose(req.Position, req.Side)
}

func (s LocalSource) String() string {
	return "ai:" + s.Engine.Level().String()
}

type Options struct {
	// Timeout bounds each external request; zero uses the config default.
	Timeout time.Duration
	// Fallback answers when a source fails; nil builds a heuristic engine.
	Fallback *ai.Engine
	Logger   func(...any)
}

// Outcome describes a move played by Step.
type Outcome struct {
	Move     shogi.Move
	Side     shogi.Side
	Source   string
	FellBack bool
	// Cause is why the source's answer was not used.
	Cause error
}

// Controller serializes access to one game and drives its computer sides.
type Controller struct {
	mu       sync.Mutex
	game     *shogi.Game
	sources  [2]MoveSource
	fallback *ai.Engine
	timeout  time.Duration
	logger   func(...any)

	busy   bool
	gen    uint64
	cancel context.CancelFunc
}

func NewController(game *shogi.Game, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = ai.DefaultLogger
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeoutMillis * time.Millisecond
	}
	if opts.Fallback == nil {
		cfg := ai.DefaultConfig()
		cfg.Level = ai.Intermediate
		cfg.Logger = opts.Logger
		opts.Fallback = ai.NewEngine(&cfg)
	}
	if game == nil {
		game = shogi.NewGame()
	}
	return &Controller{
		game:     game,
		fallback: opts.Fallback,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
	}
}

// SetSource makes side computer controlled; nil hands it back to a human.
func (c *Controller) SetSource(side shogi.Side, src MoveSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[side] = src
	c.applyPlayers()
}

func (c *Controller) applyPlayers() {
	for _, side := range []shogi.Side{shogi.First, shogi.Second} {
		kind := shogi.Human
		if c.sources[side] != nil {
			kind = shogi.Computer
		}
		c.game.SetPlayer(side, kind)
	}
}

// IsComputer reports whether side has a move source.
func (c *Controller) IsComputer(side shogi.Side) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sources[side] != nil
}

// Play applies a human move.
func (c *Controller) Play(m shogi.Move) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	if err := c.game.Apply(m); err != nil {
		return err
	}
	c.gen++
	return nil
}

func (c *Controller) ResolvePromotion(promote bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.game.ResolvePromotion(promote); err != nil {
		return err
	}
	c.gen++
	return nil
}

// Step asks the source of the side to move for a move and plays it. A
// failing, slow or illegal answer is replaced by the heuristic engine's
// move. Cancelling ctx aborts the step without playing anything.
func (c *Controller) Step(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	if err := c.ready(); err != nil {
		c.mu.Unlock()
		return Outcome{}, err
	}
	side := c.game.Turn()
	src := c.sources[side]
	if src == nil {
		c.mu.Unlock()
		return Outcome{}, ErrHumanTurn
	}
	pos := c.game.Position()
	req := Request{Position: pos, Side: side, Ply: c.game.Cursor(), Legal: c.game.LegalMoves()}
	gen := c.gen
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	c.busy = true
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	out := Outcome{Side: side, Source: sourceName(src)}
	m, err := request(reqCtx, src, req)
	if ctx.Err() != nil {
		c.finish(gen)
		return Outcome{}, ctx.Err()
	}
	if err == nil {
		err = pos.Validate(m)
	}
	if err != nil {
		out.FellBack = true
		out.Cause = err
		c.logger(fmt.Sprintf("%s: %s failed for %s, using heuristic: %v", side, out.Source, req.Position.SFEN(req.Ply+1), err))
		m, err = c.fallback.Heuristic(pos, side)
		if err != nil {
			c.finish(gen)
			return out, err
		}
	}
	out.Move = m

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return out, ErrStale
	}
	c.busy = false
	c.cancel = nil
	if c.game.Turn() != side || c.game.Cursor() != req.Ply {
		return out, ErrStale
	}
	if err := c.game.Apply(m); err != nil {
		return out, err
	}
	c.gen++
	return out, nil
}

// request runs src in its own goroutine so that a source ignoring ctx
// cannot stall the step past its deadline.
func request(ctx context.Context, src MoveSource, req Request) (shogi.Move, error) {
	type result struct {
		move shogi.Move
		err  error
	}
	done := make(chan result, 1)
	go func() {
		m, err := src.RequestMove(ctx, req)
		done <- result{m, err}
	}()
	select {
	case r := <-done:
		return r.move, r.err
	case <-ctx.Done():
		return shogi.Move{}, ctx.Err()
	}
}

func (c *Controller) finish(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.busy = false
		c.cancel = nil
	}
}

func (c *Controller) ready() error {
	if c.busy {
		return ErrBusy
	}
	switch c.game.Status() {
	case shogi.Ended:
		return shogi.ErrGameOver
	case shogi.AwaitingPromotion:
		return shogi.ErrPromotionPending
	}
	return nil
}

// Run steps until a human is to move or the game stops.
func (c *Controller) Run(ctx context.Context, onMove func(Outcome)) error {
	for {
		out, err := c.Step(ctx)
		switch {
		case errors.Is(err, ErrHumanTurn), errors.Is(err, shogi.ErrGameOver), errors.Is(err, shogi.ErrPromotionPending):
			return nil
		case err != nil:
			return err
		}
		if onMove != nil {
			onMove(out)
		}
	}
}

// invalidate drops any in-flight request; its result will be stale.
func (c *Controller) invalidate() {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.busy = false
}

// Reset starts over from the game's initial position.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidate()
	c.game = shogi.NewGameFrom(c.game.InitialPosition())
	c.applyPlayers()
}

// Load replaces the game, keeping the configured sources.
func (c *Controller) Load(g *shogi.Game) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidate()
	c.game = g
	c.applyPlayers()
}

func (c *Controller) GoTo(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidate()
	return c.game.GoTo(index)
}

func (c *Controller) Undo() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidate()
	return c.game.Undo()
}

func (c *Controller) Redo() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidate()
	return c.game.Redo()
}

// With runs fn while holding the controller lock. fn must not keep g.
func (c *Controller) With(fn func(g *shogi.Game) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c.game)
}

// State is a JSON-friendly snapshot of the game.
type State struct {
	SFEN     string        `json:"sfen"`
	Turn     string        `json:"turn"`
	Status   string        `json:"status"`
	Winner   string        `json:"winner,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Cursor   int           `json:"cursor"`
	Moves    []string      `json:"moves"`
	Legal    []string      `json:"legal"`
	Pending  *PendingState `json:"pending,omitempty"`
	Players  [2]string     `json:"players"`
	Busy     bool          `json:"busy"`
	InCheck  bool          `json:"inCheck"`
	Captured [2][]string   `json:"hands"`
}

type PendingState struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.game
	pos := g.Position()
	st := State{
		SFEN:    pos.SFEN(g.Cursor() + 1),
		Turn:    g.Turn().String(),
		Status:  g.Status().String(),
		Reason:  g.EndReason().String(),
		Cursor:  g.Cursor(),
		Moves:   []string{},
		Legal:   []string{},
		Busy:    c.busy,
		InCheck: pos.InCheck(g.Turn()),
	}
	if winner, ok := g.Winner(); ok {
		st.Winner = winner.String()
	}
	for _, rec := range g.History() {
		st.Moves = append(st.Moves, rec.Move.USI())
	}
	for _, m := range g.LegalMoves() {
		st.Legal = append(st.Legal, m.USI())
	}
	if p, ok := g.Pending(); ok {
		st.Pending = &PendingState{From: p.Move.From.String(), To: p.Move.To.String()}
	}
	for _, side := range []shogi.Side{shogi.First, shogi.Second} {
		st.Players[side] = "human"
		if src := c.sources[side]; src != nil {
			st.Players[side] = sourceName(src)
		}
		st.Captured[side] = []string{}
		for _, kind := range pos.Hand(side).Kinds() {
			st.Captured[side] = append(st.Captured[side], shogi.Piece{Kind: kind, Side: side}.String())
		}
	}
	return st
}

func sourceName(src MoveSource) string {
	if s, ok := src.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", src)
}
