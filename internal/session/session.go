// Package session runs the interactive conversation loop and owns the
// ordered shutdown sequence.
package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/carlosai/carlos/internal/conversation"
	"github.com/carlosai/carlos/internal/tts"
)

// Responder is the language-model side of a conversation turn.
type Responder interface {
	Send(ctx context.Context, message string) string
	Unload(ctx context.Context) bool
	Model() string
}

// Synthesizer turns response text into playable audio.
type Synthesizer interface {
	Generate(ctx context.Context, text string) (*tts.SpeechJob, error)
	ListVoices(ctx context.Context) ([]string, error)
	SelectVoice(ctx context.Context, name string) error
	Voice() string
}

// Playback owns the audio queue lifecycle.
type Playback interface {
	Enqueue(job *tts.SpeechJob)
	Stop()
	Cleanup()
}

// Archiver persists turns outside the in-memory window. Failures are
// logged and otherwise ignored.
type Archiver interface {
	Append(sessionID, role, content string) error
}

// Options wires a Session together. Speech, Queue, and Archive may be
// nil; the session degrades to text-only and skips their steps.
type Options struct {
	Store   *conversation.Store
	LLM     Responder
	Speech  Synthesizer
	Queue   Playback
	Archive Archiver
	Logger  *slog.Logger
	Input   io.Reader
	Output  io.Writer

	// SpeechEnabled is the initial mute state; the mute/unmute
	// commands toggle it at runtime.
	SpeechEnabled bool

	// Volume is only shown in the banner; playback volume is fixed
	// at synthesis time.
	Volume float64
}

// Session is the interactive read-dispatch-respond loop. One turn at a
// time; only audio playback overlaps with input.
type Session struct {
	id      uuid.UUID
	store   *conversation.Store
	llm     Responder
	speech  Synthesizer
	queue   Playback
	archive Archiver
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	volume  float64

	speechOn bool
	shutdown sync.Once
}

// New creates a session. A nil Speech or Queue forces text-only mode.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	speechOn := opts.SpeechEnabled
	if opts.Speech == nil || opts.Queue == nil {
		speechOn = false
	}
	return &Session{
		id:       uuid.Must(uuid.NewV7()),
		store:    opts.Store,
		llm:      opts.LLM,
		speech:   opts.Speech,
		queue:    opts.Queue,
		archive:  opts.Archive,
		logger:   logger,
		in:       opts.Input,
		out:      opts.Output,
		volume:   opts.Volume,
		speechOn: speechOn,
	}
}

// ID returns the session identifier used for archived turns.
func (s *Session) ID() uuid.UUID { return s.id }

// Run reads operator input until an exit command, EOF, or context
// cancellation, then performs the ordered shutdown. Errors inside a
// single turn are contained: they are logged and the loop continues.
func (s *Session) Run(ctx context.Context) error {
	s.banner()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(s.out, "\nYou: ")

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out, "\nInterrupted, shutting down...")
			s.Shutdown(context.WithoutCancel(ctx))
			return nil
		case line, ok = <-lines:
			if !ok {
				fmt.Fprintln(s.out, "\nInput closed, shutting down...")
				s.Shutdown(context.WithoutCancel(ctx))
				return nil
			}
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if s.handleCommand(ctx, input) {
			s.Shutdown(context.WithoutCancel(ctx))
			return nil
		}
	}
}

// handleCommand runs one reserved command or dispatches a
// conversational turn. It reports whether the session should end.
func (s *Session) handleCommand(ctx context.Context, input string) (exit bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("turn failed", "panic", r)
			fmt.Fprintln(s.out, "Something went wrong with that one. Try again.")
		}
	}()

	lower := strings.ToLower(input)
	switch {
	case lower == "quit" || lower == "exit" || lower == "bye":
		return true

	case lower == "clear":
		s.store.Clear()
		fmt.Fprintln(s.out, "Conversation history cleared.")

	case lower == "history":
		s.showHistory()

	case lower == "mute":
		s.speechOn = false
		fmt.Fprintln(s.out, "Speech muted. Responses will be text only.")

	case lower == "unmute":
		if s.speech == nil || s.queue == nil {
			fmt.Fprintln(s.out, "Speech is not available in this session.")
			break
		}
		s.speechOn = true
		fmt.Fprintln(s.out, "Speech enabled.")

	case lower == "stop":
		if s.queue == nil {
			fmt.Fprintln(s.out, "Nothing to stop.")
			break
		}
		s.queue.Stop()
		fmt.Fprintln(s.out, "Speech stopped.")

	case lower == "voices":
		s.showVoices(ctx)

	case strings.HasPrefix(lower, "voice "):
		s.changeVoice(ctx, strings.TrimSpace(input[len("voice "):]))

	default:
		s.dispatch(ctx, input)
	}
	return false
}

// dispatch sends one conversational message through the model and, if
// speech is on, queues the spoken response.
func (s *Session) dispatch(ctx context.Context, input string) {
	response := s.llm.Send(ctx, input)
	fmt.Fprintf(s.out, "\nCarlos: %s\n", response)

	s.archiveTurn(conversation.RoleUser, input)
	s.archiveTurn(conversation.RoleAssistant, response)

	if !s.speechOn {
		return
	}
	job, err := s.speech.Generate(ctx, response)
	if err != nil {
		s.logger.Warn("speech generation failed, continuing text-only", "error", err)
		return
	}
	s.queue.Enqueue(job)
}

func (s *Session) archiveTurn(role, content string) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Append(s.id.String(), role, content); err != nil {
		s.logger.Warn("archive append failed", "error", err)
	}
}

func (s *Session) showHistory() {
	turns := s.store.Snapshot()
	if len(turns) == 0 {
		fmt.Fprintln(s.out, "No conversation history yet.")
		return
	}
	fmt.Fprintf(s.out, "Conversation history (%d turns):\n", len(turns))
	for _, t := range turns {
		fmt.Fprintf(s.out, "  %s: %s\n", conversation.DisplayLabel(t.Role), t.Content)
	}
}

func (s *Session) showVoices(ctx context.Context) {
	if s.speech == nil {
		fmt.Fprintln(s.out, "Speech is not available in this session.")
		return
	}
	voices, err := s.speech.ListVoices(ctx)
	if err != nil || len(voices) == 0 {
		fmt.Fprintln(s.out, "Could not fetch the voice list.")
		return
	}
	fmt.Fprintf(s.out, "Available voices (%d):\n", len(voices))
	for i, v := range voices {
		marker := ""
		if v == s.speech.Voice() {
			marker = " (current)"
		}
		fmt.Fprintf(s.out, "  %d. %s%s\n", i+1, v, marker)
	}
}

func (s *Session) changeVoice(ctx context.Context, name string) {
	if s.speech == nil {
		fmt.Fprintln(s.out, "Speech is not available in this session.")
		return
	}
	if name == "" {
		fmt.Fprintln(s.out, "Usage: voice <name>")
		return
	}
	if err := s.speech.SelectVoice(ctx, name); err != nil {
		fmt.Fprintf(s.out, "Could not change voice: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Voice changed to %s.\n", name)
}

func (s *Session) banner() {
	fmt.Fprintln(s.out, "Type your message (or 'quit', 'exit', 'bye' to exit).")
	fmt.Fprintln(s.out, "Commands: clear, history, mute, unmute, stop, voices, voice <name>")
	if s.speechOn {
		fmt.Fprintf(s.out, "Speech: on | Voice: %s | Volume: %d%%\n", s.speech.Voice(), int(s.volume*100))
	} else {
		fmt.Fprintln(s.out, "Speech: off")
	}
}

// Shutdown runs the ordered teardown exactly once: stop playback,
// unload the model while its service is still up, then release audio
// resources. Absent components are skipped. Safe to call from both the
// command path and the interrupt path.
func (s *Session) Shutdown(ctx context.Context) {
	s.shutdown.Do(func() {
		fmt.Fprintln(s.out, "Shutting down...")

		if s.queue != nil {
			s.queue.Stop()
		}

		if s.llm != nil {
			fmt.Fprintln(s.out, "Unloading model from memory...")
			if s.llm.Unload(ctx) {
				fmt.Fprintln(s.out, "Model unload attempted.")
			} else {
				fmt.Fprintln(s.out, "Model unload failed; the service may already be down.")
			}
		}

		if s.queue != nil {
			s.queue.Cleanup()
		}

		fmt.Fprintln(s.out, "Goodbye!")
		s.logger.Info("session ended", "session_id", s.id)
	})
}
