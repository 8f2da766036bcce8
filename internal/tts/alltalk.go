// Package tts talks to an AllTalk-compatible speech synthesis server
// and prepares model output for it.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carlosai/carlos/internal/httpkit"
)

// Config holds the synthesis client settings.
type Config struct {
	BaseURL string
	Voice   string
	Volume  float64
	Timeout time.Duration

	// MaxSpeechLength bounds the cleaned text sent per request, in
	// characters. Long responses are truncated with an ellipsis.
	MaxSpeechLength int
}

// SpeechJob is one completed synthesis request: the text that was
// spoken and where the server wrote the audio.
type SpeechJob struct {
	ID        uuid.UUID
	Text      string
	AudioPath string
}

// Client is a speech synthesis client. Voice selection is guarded so
// the interactive loop can change voices while audio is in flight.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client

	mu    sync.Mutex
	voice string
}

// NewClient creates a synthesis client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:7851"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Voice == "" {
		cfg.Voice = "default"
	}
	if cfg.MaxSpeechLength <= 0 {
		cfg.MaxSpeechLength = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		logger:     logger,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(cfg.Timeout)),
		voice:      cfg.Voice,
	}
}

// Voice reports the currently selected voice.
func (c *Client) Voice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voice
}

// generateRequest is the /api/tts-generate request body.
type generateRequest struct {
	TextInput           string  `json:"text_input"`
	TextFiltering       string  `json:"text_filtering"`
	CharacterVoiceGen   string  `json:"character_voice_gen"`
	NarratorEnabled     bool    `json:"narrator_enabled"`
	NarratorVoiceGen    string  `json:"narrator_voice_gen"`
	TextNotInside       string  `json:"text_not_inside"`
	Language            string  `json:"language"`
	OutputFileName      string  `json:"output_file_name"`
	OutputFileTimestamp bool    `json:"output_file_timestamp"`
	Autoplay            bool    `json:"autoplay"`
	AutoplayVolume      float64 `json:"autoplay_volume"`
}

// generateResponse is the /api/tts-generate response body.
type generateResponse struct {
	Status         string `json:"status"`
	OutputFilePath string `json:"output_file_path"`
	Message        string `json:"message"`
}

// voicesResponse is the /api/voices response body.
type voicesResponse struct {
	Voices []string `json:"voices"`
}

// Generate synthesizes text into an audio file and returns a job
// describing it. The text is cleaned first; if nothing speakable
// remains, Generate returns (nil, nil) and no request is made. The
// server writes the audio to a path it reports back; Generate verifies
// that path exists before handing it to playback.
func (c *Client) Generate(ctx context.Context, rawText string) (*SpeechJob, error) {
	clean := CleanText(rawText, c.cfg.MaxSpeechLength)
	if clean == "" {
		return nil, nil
	}

	req := generateRequest{
		TextInput:           clean,
		TextFiltering:       "standard",
		CharacterVoiceGen:   c.Voice(),
		Language:            "en",
		OutputFileName:      "carlos_tts_output",
		OutputFileTimestamp: true,
		Autoplay:            false,
		AutoplayVolume:      c.cfg.Volume,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/tts-generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if genResp.OutputFilePath == "" {
		return nil, fmt.Errorf("no output path in response (status %q)", genResp.Status)
	}
	if _, err := os.Stat(genResp.OutputFilePath); err != nil {
		return nil, fmt.Errorf("audio file missing after generation: %w", err)
	}

	job := &SpeechJob{
		ID:        uuid.Must(uuid.NewV7()),
		Text:      clean,
		AudioPath: genResp.OutputFilePath,
	}
	c.logger.Debug("speech generated", "job_id", job.ID, "path", job.AudioPath, "chars", len(clean))
	return job, nil
}

// ListVoices fetches the server's voice inventory, in server order.
func (c *Client) ListVoices(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return vr.Voices, nil
}

// SelectVoice switches the active voice if name is in the server's
// inventory. On any failure the previously selected voice stays
// active.
func (c *Client) SelectVoice(ctx context.Context, name string) error {
	voices, err := c.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("list voices: %w", err)
	}

	for _, v := range voices {
		if v == name {
			c.mu.Lock()
			c.voice = name
			c.mu.Unlock()
			c.logger.Info("voice changed", "voice", name)
			return nil
		}
	}
	return fmt.Errorf("voice %q not available (have %v)", name, voices)
}

// TestConnection verifies the synthesis server is reachable and
// reports how many voices it offers. The configured voice being absent
// is only logged: the server falls back on its side.
func (c *Client) TestConnection(ctx context.Context) error {
	voices, err := c.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("speech service unreachable: %w", err)
	}

	found := false
	for _, v := range voices {
		if v == c.Voice() {
			found = true
			break
		}
	}
	if !found {
		c.logger.Warn("configured voice not in server inventory", "voice", c.Voice(), "available", len(voices))
	}

	c.logger.Info("speech service connected", "voices", len(voices))
	return nil
}
