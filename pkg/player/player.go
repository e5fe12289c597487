// Package player builds move sources from their command-line names.
package player

import (
	"context"
	"fmt"
	"strings"

	"koma/pkg/ai"
	"koma/pkg/match"
	"koma/pkg/ollama"
	"koma/pkg/usi"
)

const (
	Human  = "human"
	AI     = "ai"
	USI    = "usi"
	Ollama = "ollama"
)

// Player is a configured seat. Source is nil for a human.
type Player struct {
	Kind    string
	Source  match.MoveSource
	session *usi.Session
}

// Close stops the engine process behind a USI player.
func (p *Player) Close() error {
	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session = nil
	return err
}

// New builds the player named kind. An AI player may carry a level, as in
// "ai:advanced"; otherwise cfg.Level is used. seed offsets cfg.Seed so the
// two seats do not share a random stream.
func New(ctx context.Context, kind string, cfg match.Config, root string, seed int64, logger func(...any)) (*Player, error) {
	name, arg, _ := strings.Cut(strings.ToLower(strings.TrimSpace(kind)), ":")
	switch name {
	case Human, "":
		return &Player{Kind: Human}, nil
	case AI:
		levelName := cfg.Level
		if arg != "" {
			levelName = arg
		}
		level, err := ai.ParseLevel(levelName)
		if err != nil {
			return nil, err
		}
		ecfg := ai.DefaultConfig()
		ecfg.Level = level
		if cfg.Seed != 0 {
			ecfg.Seed = cfg.Seed + seed
		}
		ecfg.Logger = logger
		return &Player{Kind: AI, Source: match.LocalSource{Engine: ai.NewEngine(&ecfg)}}, nil
	case USI:
		s, err := usi.Launch(ctx, cfg, root)
		if err != nil {
			return nil, err
		}
		return &Player{Kind: USI, Source: usi.Source{Session: s, Millis: cfg.Millis}, session: s}, nil
	case Ollama:
		oc := cfg.Ollama
		if arg != "" {
			oc.Model = arg
		}
		return &Player{Kind: Ollama, Source: ollama.New(oc)}, nil
	}
	return nil, fmt.Errorf("unknown player %q (want human, ai[:level], usi or ollama[:model])", kind)
}
