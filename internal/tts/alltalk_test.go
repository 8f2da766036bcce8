package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testTTSClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:         baseURL,
		Voice:           "default",
		Volume:          0.8,
		Timeout:         time.Second,
		MaxSpeechLength: 1000,
	}, nil)
}

func TestGenerate(t *testing.T) {
	audioFile := filepath.Join(t.TempDir(), "out.wav")
	if err := os.WriteFile(audioFile, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tts-generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(generateResponse{
			Status:         "generate-success",
			OutputFilePath: audioFile,
		})
	}))
	defer srv.Close()

	c := testTTSClient(t, srv.URL)
	job, err := c.Generate(context.Background(), "Hello **world**!")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if job == nil {
		t.Fatal("Generate() returned nil job")
	}
	if job.AudioPath != audioFile {
		t.Errorf("AudioPath = %q, want %q", job.AudioPath, audioFile)
	}
	if job.Text != "Hello world!" {
		t.Errorf("job text = %q, want cleaned text", job.Text)
	}

	if gotReq.TextInput != "Hello world!" {
		t.Errorf("text_input = %q, want cleaned text", gotReq.TextInput)
	}
	if gotReq.CharacterVoiceGen != "default" {
		t.Errorf("character_voice_gen = %q", gotReq.CharacterVoiceGen)
	}
	if gotReq.Autoplay {
		t.Error("autoplay must be off, playback is local")
	}
	if gotReq.AutoplayVolume != 0.8 {
		t.Errorf("autoplay_volume = %v", gotReq.AutoplayVolume)
	}
}

func TestGenerate_NothingSpeakable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made for unspeakable input")
	}))
	defer srv.Close()

	c := testTTSClient(t, srv.URL)
	job, err := c.Generate(context.Background(), "🎉🚀")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if job != nil {
		t.Errorf("Generate() = %+v, want nil job", job)
	}
}

func TestGenerate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "synthesis engine offline", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testTTSClient(t, srv.URL)
	job, err := c.Generate(context.Background(), "hello")
	if err == nil {
		t.Fatal("Generate() should fail on HTTP 500")
	}
	if job != nil {
		t.Errorf("job should be nil on failure, got %+v", job)
	}
	if !strings.Contains(err.Error(), "synthesis engine offline") {
		t.Errorf("error should carry the server message: %v", err)
	}
}

func TestGenerate_MissingAudioFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{
			Status:         "generate-success",
			OutputFilePath: "/nonexistent/audio.wav",
		})
	}))
	defer srv.Close()

	c := testTTSClient(t, srv.URL)
	if _, err := c.Generate(context.Background(), "hello"); err == nil {
		t.Fatal("Generate() should fail when the reported file does not exist")
	}
}

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/voices" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"voices":["default","male","female"]}`))
	}))
	defer srv.Close()

	c := testTTSClient(t, srv.URL)
	voices, err := c.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices() error: %v", err)
	}
	want := []string{"default", "male", "female"}
	if len(voices) != len(want) {
		t.Fatalf("ListVoices() = %v, want %v", voices, want)
	}
	for i := range want {
		if voices[i] != want[i] {
			t.Errorf("voices[%d] = %q, want %q", i, voices[i], want[i])
		}
	}
}

func TestSelectVoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"voices":["default","male"]}`))
	}))
	defer srv.Close()

	c := testTTSClient(t, srv.URL)

	if err := c.SelectVoice(context.Background(), "male"); err != nil {
		t.Fatalf("SelectVoice(male) error: %v", err)
	}
	if got := c.Voice(); got != "male" {
		t.Errorf("Voice() = %q after selection, want male", got)
	}

	// Unknown voice: the previous selection stays active.
	if err := c.SelectVoice(context.Background(), "nonexistent"); err == nil {
		t.Fatal("SelectVoice(nonexistent) should fail")
	}
	if got := c.Voice(); got != "male" {
		t.Errorf("Voice() = %q after failed selection, want male", got)
	}
}

func TestSelectVoice_ServiceDown(t *testing.T) {
	srv := httptest.NewServer(nil)
	srv.Close()

	c := testTTSClient(t, srv.URL)
	if err := c.SelectVoice(context.Background(), "male"); err == nil {
		t.Fatal("SelectVoice should fail when the service is down")
	}
	if got := c.Voice(); got != "default" {
		t.Errorf("Voice() = %q after failed selection, want default", got)
	}
}

func TestTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"voices":["default"]}`))
	}))
	defer srv.Close()

	c := testTTSClient(t, srv.URL)
	if err := c.TestConnection(context.Background()); err != nil {
		t.Errorf("TestConnection() error: %v", err)
	}
}

func TestTestConnection_Down(t *testing.T) {
	srv := httptest.NewServer(nil)
	srv.Close()

	c := testTTSClient(t, srv.URL)
	if err := c.TestConnection(context.Background()); err == nil {
		t.Fatal("TestConnection() should fail for a down service")
	}
}
