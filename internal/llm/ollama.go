// Package llm provides the Ollama language-model client.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/carlosai/carlos/internal/conversation"
	"github.com/carlosai/carlos/internal/httpkit"
)

// Apology is returned to the operator when a turn cannot be completed.
// The user's message stays in history — the failure is visible to the
// model on the next turn rather than silently erased.
const Apology = "I'm sorry, I couldn't process your request right now. Please try again."

// maxAttempts bounds generation retries. Only timeouts are retried;
// a refused connection means the service is down and aborts immediately.
const maxAttempts = 3

// Config holds the Ollama connection settings.
type Config struct {
	BaseURL string
	Model   string
	// Timeout bounds one generation request.
	Timeout time.Duration
	// UnloadTimeout bounds each unload fallback call.
	UnloadTimeout time.Duration
	MaxTokens     int
	Temperature   float64
	SystemPrompt  string
}

// Client talks to the Ollama generate API and maintains the
// conversation transcript around each exchange.
type Client struct {
	cfg    Config
	store  *conversation.Store
	logger *slog.Logger

	httpClient   *http.Client
	unloadClient *http.Client

	// backoffBase and sleep exist so tests can assert retry behavior
	// without waiting out real backoff delays.
	backoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration)
}

// NewClient creates an Ollama client bound to a conversation store.
func NewClient(cfg Config, store *conversation.Store, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UnloadTimeout <= 0 {
		cfg.UnloadTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		httpClient:   httpkit.NewClient(httpkit.WithTimeout(cfg.Timeout)),
		unloadClient: httpkit.NewClient(httpkit.WithTimeout(cfg.UnloadTimeout)),
		backoffBase:  time.Second,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// generateRequest is the /api/generate request body.
type generateRequest struct {
	Model     string   `json:"model"`
	Prompt    string   `json:"prompt,omitempty"`
	Stream    bool     `json:"stream"`
	KeepAlive string   `json:"keep_alive,omitempty"`
	Options   *Options `json:"options,omitempty"`
}

// Options are model decoding parameters.
type Options struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// generateResponse is the /api/generate response body.
type generateResponse struct {
	Response string `json:"response"`
}

// Send runs one conversational exchange: the prompt is built from the
// transcript plus userMessage, the model's reply is appended as an
// assistant turn, and the reply text is returned. On failure the
// Apology string is returned instead; the user turn is appended either
// way, so history reflects what the operator actually said.
func (c *Client) Send(ctx context.Context, userMessage string) string {
	prompt := c.store.BuildPrompt(c.cfg.SystemPrompt, userMessage)
	c.store.Append(conversation.RoleUser, userMessage)

	response, err := c.generate(ctx, prompt, c.cfg.MaxTokens)
	if err != nil {
		c.logger.Error("generation failed", "model", c.cfg.Model, "error", err)
		return Apology
	}

	c.store.Append(conversation.RoleAssistant, response)
	return response
}

// generate issues a completion request with timeout retry. Up to
// maxAttempts attempts, with exponentially increasing delays between
// them (base, 2×base, ...). A refused connection aborts immediately:
// retrying a down service only wastes the backoff budget.
func (c *Client) generate(ctx context.Context, prompt string, numPredict int) (string, error) {
	req := generateRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: &Options{
			Temperature: c.cfg.Temperature,
			NumPredict:  numPredict,
		},
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoffBase << (attempt - 1)
			c.logger.Warn("generation timed out, retrying",
				"attempt", attempt+1, "max_attempts", maxAttempts, "delay", delay)
			c.sleep(ctx, delay)
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
		}

		text, err := c.postGenerate(ctx, c.httpClient, req)
		if err == nil {
			return strings.TrimSpace(text), nil
		}
		lastErr = err

		if httpkit.IsConnectionRefused(err) {
			c.logger.Error("connection refused, is the service running?", "base_url", c.cfg.BaseURL)
			return "", err
		}
		if !httpkit.IsTimeout(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("timed out after %d attempts: %w", maxAttempts, lastErr)
}

// postGenerate performs a single /api/generate round trip.
func (c *Client) postGenerate(ctx context.Context, client *http.Client, req generateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return genResp.Response, nil
}

// ListModels returns the names of models the service reports.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d", resp.StatusCode)
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}

// TestConnection verifies the service is up, the configured model is in
// its inventory, and a minimal-token generation round-trips.
func (c *Client) TestConnection(ctx context.Context) error {
	models, err := c.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	found := false
	for _, m := range models {
		if m == c.cfg.Model {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("model %q not found (available: %s)", c.cfg.Model, strings.Join(models, ", "))
	}

	// Smoke test: a tiny generation proves the model actually loads.
	req := generateRequest{
		Model:   c.cfg.Model,
		Prompt:  "Hello",
		Stream:  false,
		Options: &Options{Temperature: c.cfg.Temperature, NumPredict: 10},
	}
	if _, err := c.postGenerate(ctx, c.httpClient, req); err != nil {
		return fmt.Errorf("test generation: %w", err)
	}

	c.logger.Info("connection test successful", "model", c.cfg.Model)
	return nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Unload asks the service to drop the model from memory, trying three
// avenues in turn: a zero-duration keep-alive generate, a DELETE
// against the model's tag, and a model-management pull. The contract is
// "exhaust all avenues", not "prove memory was freed": any fallback
// that completes without a request-level error counts as an attempt
// made, and Unload returns false only when all three raise. Shutdown is
// never blocked on unconfirmed memory reclamation.
func (c *Client) Unload(ctx context.Context) bool {
	c.logger.Info("attempting to unload model", "model", c.cfg.Model)

	anyCompleted := false

	// Method 1: keep_alive=0s unloads immediately on current servers.
	status, err := c.unloadGenerate(ctx)
	if err == nil {
		anyCompleted = true
		if status == http.StatusOK {
			c.logger.Info("model unloaded via keep_alive", "model", c.cfg.Model)
			return true
		}
	} else {
		c.logger.Debug("keep_alive unload failed", "error", err)
	}

	// Method 2: DELETE the model's tag resource.
	status, err = c.unloadDelete(ctx)
	if err == nil {
		anyCompleted = true
		if status == http.StatusOK {
			c.logger.Info("model unloaded via delete endpoint", "model", c.cfg.Model)
			return true
		}
	} else {
		c.logger.Debug("delete unload failed", "error", err)
	}

	// Method 3: model-management pull. Outcome is irrelevant beyond
	// "did the request itself complete".
	if _, err = c.unloadPull(ctx); err == nil {
		anyCompleted = true
	} else {
		c.logger.Debug("pull unload failed", "error", err)
	}

	if anyCompleted {
		c.logger.Info("model unload attempt completed", "model", c.cfg.Model)
		return true
	}

	c.logger.Warn("all unload attempts failed", "model", c.cfg.Model)
	return false
}

func (c *Client) unloadGenerate(ctx context.Context) (int, error) {
	body, err := json.Marshal(generateRequest{Model: c.cfg.Model, KeepAlive: "0s"})
	if err != nil {
		return 0, err
	}
	return c.unloadDo(ctx, http.MethodPost, "/api/generate", body)
}

func (c *Client) unloadDelete(ctx context.Context) (int, error) {
	return c.unloadDo(ctx, http.MethodDelete, "/api/tags/"+c.cfg.Model, nil)
}

func (c *Client) unloadPull(ctx context.Context) (int, error) {
	body, err := json.Marshal(map[string]any{"name": c.cfg.Model, "insecure": true})
	if err != nil {
		return 0, err
	}
	return c.unloadDo(ctx, http.MethodPost, "/api/pull", body)
}

func (c *Client) unloadDo(ctx context.Context, method, path string, body []byte) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.unloadClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return resp.StatusCode, nil
}
