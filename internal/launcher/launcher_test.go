package launcher

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// testLauncher returns a launcher whose settle sleeps are no-ops.
func testLauncher(t *testing.T) *Launcher {
	t.Helper()
	l := New(nil)
	l.sleep = func(ctx context.Context, d time.Duration) {}
	l.probeTimeout = time.Second
	return l
}

// deadAddr returns a host:port with no listener.
func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestEnsureRunning_AlreadyUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var started atomic.Int32
	svc := &Service{
		Name:           "fake",
		BaseURL:        srv.URL,
		ProbeEndpoints: []string{"/api/tags"},
		Strategies: []Strategy{{
			Description: "should never run",
			Run: func(ctx context.Context) error {
				started.Add(1)
				return nil
			},
		}},
	}

	l := testLauncher(t)
	if !l.EnsureRunning(context.Background(), svc) {
		t.Fatal("EnsureRunning() = false for a live service")
	}
	if started.Load() != 0 {
		t.Errorf("start strategy ran %d times for an already-running service", started.Load())
	}
}

func TestEnsureRunning_FirstStrategySucceeds(t *testing.T) {
	// The "service" starts answering only after the strategy runs.
	var up atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if up.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var attempts []string
	svc := &Service{
		Name:           "fake",
		BaseURL:        srv.URL,
		ProbeEndpoints: []string{"/"},
		Strategies: []Strategy{
			{
				Description: "first",
				Run: func(ctx context.Context) error {
					attempts = append(attempts, "first")
					up.Store(true)
					return nil
				},
			},
			{
				Description: "second",
				Run: func(ctx context.Context) error {
					attempts = append(attempts, "second")
					return nil
				},
			},
		},
	}

	l := testLauncher(t)
	if !l.EnsureRunning(context.Background(), svc) {
		t.Fatal("EnsureRunning() = false")
	}
	if len(attempts) != 1 || attempts[0] != "first" {
		t.Errorf("attempts = %v, want [first]", attempts)
	}
}

func TestEnsureRunning_ExhaustsStrategies(t *testing.T) {
	var attempts atomic.Int32
	svc := &Service{
		Name:           "fake",
		BaseURL:        "http://" + deadAddr(t),
		ProbeEndpoints: []string{"/"},
		Strategies: []Strategy{
			{Description: "a", Run: func(ctx context.Context) error { attempts.Add(1); return nil }},
			{Description: "b", Run: func(ctx context.Context) error { attempts.Add(1); return nil }},
			{Description: "c", Run: func(ctx context.Context) error { attempts.Add(1); return nil }},
		},
	}

	l := testLauncher(t)
	if l.EnsureRunning(context.Background(), svc) {
		t.Fatal("EnsureRunning() = true for a service that never comes up")
	}
	if attempts.Load() != 3 {
		t.Errorf("ran %d strategies, want 3", attempts.Load())
	}
}

func TestEnsureRunning_SkipsFailedStrategy(t *testing.T) {
	var ran []string
	svc := &Service{
		Name:           "fake",
		BaseURL:        "http://" + deadAddr(t),
		ProbeEndpoints: []string{"/"},
		Strategies: []Strategy{
			{Description: "broken", Run: func(ctx context.Context) error {
				ran = append(ran, "broken")
				return os.ErrNotExist
			}},
			{Description: "next", Run: func(ctx context.Context) error {
				ran = append(ran, "next")
				return nil
			}},
		},
	}

	l := testLauncher(t)
	l.EnsureRunning(context.Background(), svc)
	if len(ran) != 2 {
		t.Errorf("ran = %v, want both strategies attempted", ran)
	}
}

func TestEnsureRunning_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var started atomic.Int32
	svc := &Service{
		Name:           "fake",
		BaseURL:        "http://" + deadAddr(t),
		ProbeEndpoints: []string{"/"},
		Strategies: []Strategy{{
			Description: "should not run",
			Run:         func(c context.Context) error { started.Add(1); return nil },
		}},
	}

	l := testLauncher(t)
	if l.EnsureRunning(ctx, svc) {
		t.Error("EnsureRunning() = true under a cancelled context")
	}
	if started.Load() != 0 {
		t.Error("strategy ran under a cancelled context")
	}
}

func TestSetupComplete(t *testing.T) {
	dir := t.TempDir()
	if SetupComplete(dir) {
		t.Error("SetupComplete() = true with no flag file")
	}

	os.WriteFile(filepath.Join(dir, SetupFlagFile), nil, 0600)
	if !SetupComplete(dir) {
		t.Error("SetupComplete() = false with flag file present")
	}
}

func TestStatusSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	up := &Service{Name: "ollama", BaseURL: srv.URL, ProbeEndpoints: []string{"/"}}
	down := &Service{Name: "tts", BaseURL: "http://" + deadAddr(t), ProbeEndpoints: []string{"/"}}

	l := testLauncher(t)
	got := l.StatusSummary(context.Background(), up, down)

	if !strings.Contains(got, "ollama") || !strings.Contains(got, "tts") {
		t.Fatalf("StatusSummary missing service names:\n%s", got)
	}
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("StatusSummary = %d lines, want 3:\n%s", len(lines), got)
	}
	if !strings.Contains(lines[1], "running") || strings.Contains(lines[1], "not running") {
		t.Errorf("ollama line = %q, want running", lines[1])
	}
	if !strings.Contains(lines[2], "not running") {
		t.Errorf("tts line = %q, want not running", lines[2])
	}
}

func TestOllamaService_HasStrategies(t *testing.T) {
	svc := OllamaService("http://localhost:11434")
	if len(svc.Strategies) == 0 {
		t.Fatal("OllamaService has no start strategies")
	}
	if svc.Tolerant {
		t.Error("ollama probe should be strict")
	}
}

func TestTTSService_TolerantProbe(t *testing.T) {
	svc := TTSService("http://localhost:7851", t.TempDir())
	if !svc.Tolerant {
		t.Error("tts probe should be tolerant")
	}
	if len(svc.ProbeEndpoints) < 2 {
		t.Error("tts probe should try multiple endpoints")
	}
}
