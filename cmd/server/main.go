package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"koma/pkg/ai"
	"koma/pkg/match"
	"koma/pkg/player"
	"koma/pkg/server"
	"koma/pkg/shogi"
)

func main() {
	addr := flag.String("addr", getenv("KOMA_ADDR", ":8080"), "listen address")
	configPath := flag.String("config", "", "path to config.json (default: search upward)")
	first := flag.String("first", "human", "first player: human, ai[:level], usi or ollama[:model]")
	second := flag.String("second", "ai", "second player: human, ai[:level], usi or ollama[:model]")
	flag.Parse()

	cfg, root, err := match.ResolveConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fallbackCfg := ai.DefaultConfig()
	fallbackCfg.Seed = cfg.Seed
	ctrl := match.NewController(shogi.NewGame(), match.Options{
		Timeout:  cfg.Timeout(),
		Fallback: ai.NewEngine(&fallbackCfg),
		Logger:   ai.DefaultLogger,
	})
	for i, kind := range []string{*first, *second} {
		side := shogi.Side(i)
		p, err := player.New(ctx, kind, cfg, root, int64(i), ai.DefaultLogger)
		if err != nil {
			fatal(fmt.Errorf("%s: %w", side, err))
		}
		defer p.Close()
		ctrl.SetSource(side, p.Source)
		ai.DefaultLogger(fmt.Sprintf("%s: %s", side, p.Kind))
	}

	srv := server.New(ctrl, ai.DefaultLogger)
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stopCh)
	go func() {
		<-stopCh
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := srv.Close(shutdownCtx); err != nil {
			ai.DefaultLogger(fmt.Sprintf("shutdown: %v", err))
		}
	}()
	if err := srv.Listen(*addr); err != nil {
		fatal(err)
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
