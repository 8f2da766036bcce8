// Package audio plays synthesized speech files through a system audio
// player, one at a time, without blocking the conversation loop.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
)

// Player plays a single audio file to completion. Play blocks until
// playback finishes, fails, or Stop is called.
type Player interface {
	Play(ctx context.Context, path string) error
	Stop()
}

// playerCandidate is one known command-line audio player and the
// arguments that make it play a file and exit.
type playerCandidate struct {
	command string
	args    []string
}

// candidates lists players to probe for, most preferred first.
func candidates() []playerCandidate {
	switch runtime.GOOS {
	case "darwin":
		return []playerCandidate{
			{"afplay", nil},
			{"ffplay", []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}},
			{"mpv", []string{"--no-video", "--really-quiet"}},
		}
	case "windows":
		return []playerCandidate{
			{"ffplay", []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}},
			{"mpv", []string{"--no-video", "--really-quiet"}},
		}
	default:
		return []playerCandidate{
			{"paplay", nil},
			{"aplay", []string{"-q"}},
			{"ffplay", []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}},
			{"mpv", []string{"--no-video", "--really-quiet"}},
		}
	}
}

// CommandPlayer runs an external audio player process per file. Stop
// kills the in-flight process, which unblocks the pending Play call.
type CommandPlayer struct {
	logger  *slog.Logger
	command string
	args    []string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCommandPlayer finds a usable audio player on PATH. When override
// is non-empty it names the player command to use, skipping discovery.
func NewCommandPlayer(override string, logger *slog.Logger) (*CommandPlayer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if override != "" {
		path, err := exec.LookPath(override)
		if err != nil {
			return nil, fmt.Errorf("configured audio player %q not found: %w", override, err)
		}
		return &CommandPlayer{logger: logger, command: path}, nil
	}

	for _, c := range candidates() {
		path, err := exec.LookPath(c.command)
		if err != nil {
			continue
		}
		logger.Debug("audio player selected", "command", c.command)
		return &CommandPlayer{logger: logger, command: path, args: c.args}, nil
	}
	return nil, fmt.Errorf("no audio player found on PATH (tried %d candidates)", len(candidates()))
}

// Play runs the player process for one file and waits for it to exit.
func (p *CommandPlayer) Play(ctx context.Context, path string) error {
	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.cancel = nil
		p.mu.Unlock()
	}()

	args := append(append([]string(nil), p.args...), path)
	cmd := exec.CommandContext(playCtx, p.command, args...)
	if err := cmd.Run(); err != nil {
		if playCtx.Err() != nil {
			return playCtx.Err()
		}
		return fmt.Errorf("player %s: %w", p.command, err)
	}
	return nil
}

// Stop kills any in-flight playback process. Safe to call when nothing
// is playing.
func (p *CommandPlayer) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
