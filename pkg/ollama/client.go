package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"koma/pkg/match"
	"koma/pkg/shogi"
)

const (
	DefaultEndpoint = match.DefaultOllamaURL
	DefaultModel    = match.DefaultOllamaModel
	DefaultTimeout  = match.DefaultOllamaMillis * time.Millisecond

	maxErrorBody = 512
)

// ErrNoMove means the reply held no legal move.
var ErrNoMove = errors.New("ollama: no legal move in reply")

// Client calls the Ollama generate endpoint.
type Client struct {
	Endpoint string
	Model    string
	HTTP     *http.Client
}

// New builds a client from the ollama section of config.json.
func New(cfg match.OllamaConfig) *Client {
	c := &Client{Endpoint: cfg.Endpoint, Model: cfg.Model}
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	timeout := time.Duration(cfg.TimeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.HTTP = &http.Client{Timeout: timeout}
	return c
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Generate sends prompt without streaming and returns the reply text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: c.Model, Prompt: prompt})
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(c.Endpoint, "/") + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("ollama: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama: decode reply: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", out.Error)
	}
	return out.Response, nil
}

// RequestMove asks the model for a move and plays the first legal one it names.
func (c *Client) RequestMove(ctx context.Context, req match.Request) (shogi.Move, error) {
	text, err := c.Generate(ctx, BuildPrompt(req))
	if err != nil {
		return shogi.Move{}, err
	}
	return ExtractMove(text, req.Legal)
}

func (c *Client) String() string {
	return "ollama:" + c.Model
}

// BuildPrompt describes the position and the legal moves in USI notation.
func BuildPrompt(req match.Request) string {
	pos := req.Position.Clone()
	pos.SetTurn(req.Side)
	var b strings.Builder
	b.WriteString("You are playing shogi. ")
	fmt.Fprintf(&b, "You are %s (%s).\n", req.Side, sideName(req.Side))
	fmt.Fprintf(&b, "Position (SFEN): %s\n", pos.SFEN(req.Ply+1))
	b.WriteString("Legal moves (USI):")
	for _, m := range req.Legal {
		b.WriteByte(' ')
		b.WriteString(m.USI())
	}
	b.WriteString("\nAnswer with exactly one move from the list in USI notation, for example 7g7f or P*5e. ")
	b.WriteString("Append + to promote.\n")
	return b.String()
}

func sideName(side shogi.Side) string {
	if side == shogi.Second {
		return "gote, lowercase pieces"
	}
	return "sente, uppercase pieces"
}

var usiToken = regexp.MustCompile(`[1-9][a-i][1-9][a-i]\+?|[RBGSNLP]\*[1-9][a-i]`)

// ExtractMove returns the first token in text that names a move in legal.
// A trailing + requests promotion; without it the engine's promotion default
// applies.
func ExtractMove(text string, legal []shogi.Move) (shogi.Move, error) {
	for _, token := range usiToken.FindAllString(text, -1) {
		m, err := shogi.ParseUSIMove(token)
		if err != nil {
			continue
		}
		for _, l := range legal {
			if l.SameAction(m) {
				if !strings.HasSuffix(token, "+") {
					m.Promote = shogi.PromoteUnset
				}
				return m, nil
			}
		}
	}
	return shogi.Move{}, ErrNoMove
}
