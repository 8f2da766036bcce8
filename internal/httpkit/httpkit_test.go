package httpkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestNewClient_SetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	client := NewClient()
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if !strings.HasPrefix(gotUA, "carlos/") {
		t.Errorf("User-Agent = %q, want carlos/ prefix", gotUA)
	}
}

func TestNewClient_PreservesExplicitUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	client := NewClient()
	req, _ := http.NewRequest("GET", srv.URL, nil)
	req.Header.Set("User-Agent", "custom-agent")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if gotUA != "custom-agent" {
		t.Errorf("User-Agent = %q, want custom-agent", gotUA)
	}
}

func TestNewClient_WithoutUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	client := NewClient(WithoutUserAgent())
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if strings.HasPrefix(gotUA, "carlos/") {
		t.Errorf("User-Agent = %q, want Go default", gotUA)
	}
}

func TestNewClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(WithTimeout(20 * time.Millisecond))
	_, err := client.Get(srv.URL)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTimeout(err) {
		t.Errorf("IsTimeout(%v) = false, want true", err)
	}
}

func TestReadErrorBody(t *testing.T) {
	body := io.NopCloser(strings.NewReader("server exploded"))
	got := ReadErrorBody(body, 1024)
	if got != "server exploded" {
		t.Errorf("ReadErrorBody() = %q", got)
	}
}

func TestReadErrorBody_Nil(t *testing.T) {
	if got := ReadErrorBody(nil, 1024); got != "" {
		t.Errorf("ReadErrorBody(nil) = %q, want empty", got)
	}
}

func TestReadErrorBody_Limit(t *testing.T) {
	body := io.NopCloser(strings.NewReader(strings.Repeat("x", 100)))
	got := ReadErrorBody(body, 10)
	if len(got) != 10 {
		t.Errorf("ReadErrorBody() returned %d bytes, want 10", len(got))
	}
}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("request: %w", context.DeadlineExceeded), true},
		{"net timeout", &net.OpError{Op: "dial", Err: &timeoutError{}}, true},
		{"refused", syscall.ECONNREFUSED, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTimeout(tt.err); got != tt.want {
				t.Errorf("IsTimeout(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsConnectionRefused(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"raw errno", syscall.ECONNREFUSED, true},
		{"op error wrapping errno", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"wrapped op error", fmt.Errorf("send: %w", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}), true},
		{"timeout", context.DeadlineExceeded, false},
		{"other errno", syscall.EHOSTUNREACH, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectionRefused(tt.err); got != tt.want {
				t.Errorf("IsConnectionRefused(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsConnectionRefused_RealDial(t *testing.T) {
	// Grab a port nobody is listening on by opening and closing a listener.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	client := NewClient(WithTimeout(2 * time.Second))
	_, err = client.Get("http://" + addr)
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !IsConnectionRefused(err) {
		t.Errorf("IsConnectionRefused(%v) = false, want true", err)
	}
}

// timeoutError implements net.Error with Timeout() == true.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
