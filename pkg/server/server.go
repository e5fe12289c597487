package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"koma/pkg/match"
	"koma/pkg/shogi"
)

const (
	maxJSONBodyBytes int64 = 1 << 20
	apiCSP                 = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"
)

// Server exposes a match controller as a JSON API.
type Server struct {
	ctrl   *match.Controller
	logger func(...any)
	now    func() time.Time

	srvMu sync.Mutex
	srv   *http.Server
}

func New(ctrl *match.Controller, logger func(...any)) *Server {
	if logger == nil {
		logger = func(a ...any) { fmt.Println(a...) }
	}
	return &Server{ctrl: ctrl, logger: logger, now: time.Now}
}

// Listen serves on addr until Close is called.
func (s *Server) Listen(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}

	s.srvMu.Lock()
	s.srv = srv
	s.srvMu.Unlock()
	defer func() {
		s.srvMu.Lock()
		s.srv = nil
		s.srvMu.Unlock()
	}()

	s.logger(fmt.Sprintf("HTTP listening on %s", addr))
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close shuts the server down gracefully.
func (s *Server) Close(ctx context.Context) error {
	s.srvMu.Lock()
	srv := s.srv
	s.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.withJSON(s.handleState))
	mux.HandleFunc("/api/move", s.withJSON(s.handleMove))
	mux.HandleFunc("/api/promote", s.withJSON(s.handlePromote))
	mux.HandleFunc("/api/step", s.withJSON(s.handleStep))
	mux.HandleFunc("/api/undo", s.withJSON(s.history(s.ctrl.Undo)))
	mux.HandleFunc("/api/redo", s.withJSON(s.history(s.ctrl.Redo)))
	mux.HandleFunc("/api/goto", s.withJSON(s.handleGoTo))
	mux.HandleFunc("/api/reset", s.withJSON(s.handleReset))
	mux.HandleFunc("/api/kifu", s.handleKifu)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ---- JSON helpers ----

func (s *Server) withJSON(h func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", apiCSP)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if r.Body != nil && r.Body != http.NoBody {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func (s *Server) writeState(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"state": s.ctrl.State()})
}

// writeError reports err with the current state so clients can resync.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "state": s.ctrl.State()})
}

func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, match.ErrBusy), errors.Is(err, match.ErrStale), errors.Is(err, match.ErrHumanTurn),
		errors.Is(err, shogi.ErrGameOver), errors.Is(err, shogi.ErrPromotionPending), errors.Is(err, shogi.ErrNoPendingPromotion):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	return false
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// ---- API ----

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	s.writeState(w)
}

// moveBody accepts either a USI move or from/to/drop fields. Promote is
// "yes", "no" or empty to ask later.
type moveBody struct {
	Move    string `json:"move"`
	From    string `json:"from"`
	To      string `json:"to"`
	Drop    string `json:"drop"`
	Promote string `json:"promote"`
}

func (b moveBody) toMove() (shogi.Move, error) {
	if b.Move != "" {
		m, err := shogi.ParseUSIMove(b.Move)
		if err != nil {
			return shogi.Move{}, err
		}
		if !m.IsDrop() && !strings.HasSuffix(b.Move, "+") && b.Promote == "" {
			m.Promote = shogi.PromoteUnset
		}
		return applyPromote(m, b.Promote)
	}
	to, err := shogi.ParseSquare(strings.TrimSpace(b.To))
	if err != nil {
		return shogi.Move{}, fmt.Errorf("invalid to square: %w", err)
	}
	if drop := strings.ToUpper(strings.TrimSpace(b.Drop)); drop != "" {
		kind, ok := shogi.KindFromLetter(rune(drop[0]))
		if !ok || kind == shogi.King || len(drop) != 1 {
			return shogi.Move{}, fmt.Errorf("invalid drop piece %q", b.Drop)
		}
		return shogi.NewDrop(kind, to), nil
	}
	from, err := shogi.ParseSquare(strings.TrimSpace(b.From))
	if err != nil {
		return shogi.Move{}, fmt.Errorf("invalid from square: %w", err)
	}
	return applyPromote(shogi.NewMove(from, to, shogi.PromoteUnset), b.Promote)
}

func applyPromote(m shogi.Move, promote string) (shogi.Move, error) {
	switch strings.ToLower(strings.TrimSpace(promote)) {
	case "":
	case "yes", "true":
		m.Promote = shogi.PromoteYes
	case "no", "false":
		m.Promote = shogi.PromoteNo
	default:
		return shogi.Move{}, fmt.Errorf("invalid promote value %q", promote)
	}
	return m, nil
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var body moveBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	m, err := body.toMove()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ctrl.Play(m); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeState(w)
}

type promoteBody struct {
	Promote bool `json:"promote"`
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var body promoteBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ctrl.ResolvePromotion(body.Promote); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeState(w)
}

// handleStep plays one computer move. The request context bounds it.
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	out, err := s.ctrl.Step(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := map[string]any{"state": s.ctrl.State(), "move": out.Move.USI(), "source": out.Source}
	if out.FellBack {
		resp["fallback"] = out.Cause.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) history(op func() error) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		if err := op(); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeState(w)
	}
}

type gotoBody struct {
	Index int `json:"index"`
}

func (s *Server) handleGoTo(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var body gotoBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ctrl.GoTo(body.Index); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if r.Body != nil {
		r.Body.Close()
	}
	s.ctrl.Reset()
	s.writeState(w)
}

// handleKifu exports the game as a JSON record, or KIF with ?format=kif,
// and imports either on POST.
func (s *Server) handleKifu(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("format") == "kif" {
			var buf bytes.Buffer
			err := s.ctrl.With(func(g *shogi.Game) error {
				return shogi.WriteKIF(&buf, g, s.now(), false)
			})
			if err != nil {
				s.withJSON(func(w http.ResponseWriter, _ *http.Request) { s.writeError(w, err) })(w, r)
				return
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Content-Disposition", `attachment; filename="game.kif"`)
			_, _ = w.Write(buf.Bytes())
			return
		}
		s.withJSON(func(w http.ResponseWriter, _ *http.Request) {
			var rec shogi.Record
			_ = s.ctrl.With(func(g *shogi.Game) error {
				rec = g.Record(s.now())
				return nil
			})
			writeJSON(w, http.StatusOK, rec)
		})(w, r)
	case http.MethodPost:
		s.withJSON(s.importKifu)(w, r)
	default:
		s.withJSON(func(w http.ResponseWriter, r *http.Request) {
			allow(w, r, http.MethodGet, http.MethodPost)
		})(w, r)
	}
}

func (s *Server) importKifu(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var g *shogi.Game
	if r.URL.Query().Get("format") == "kif" {
		var kif *shogi.KIF
		if kif, err = shogi.ReadKIF(bytes.NewReader(data)); err == nil {
			g, err = kif.Replay()
		}
	} else {
		g, err = shogi.ParseRecord(data)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.ctrl.Load(g)
	s.writeState(w)
}
