// Carlos is a voice-enabled conversational assistant.
//
// It glues a local Ollama language-model server and an AllTalk-style
// speech synthesis server behind an interactive command-line loop:
// type a message, read the reply, hear it spoken. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	carlos run         Start the interactive assistant (default)
//	carlos init [dir]  Write an example config.yaml
//	carlos status      Show dependent-service reachability
//	carlos version     Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/carlosai/carlos/internal/audio"
	"github.com/carlosai/carlos/internal/buildinfo"
	"github.com/carlosai/carlos/internal/config"
	"github.com/carlosai/carlos/internal/conversation"
	"github.com/carlosai/carlos/internal/launcher"
	"github.com/carlosai/carlos/internal/llm"
	"github.com/carlosai/carlos/internal/session"
	"github.com/carlosai/carlos/internal/tts"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates to [run]. Keeping os.Exit and os.Args out of run lets the
// full lifecycle be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments and dispatches to a subcommand. Arguments are
// parsed by hand; the flag package's package-level globals get in the
// way of calling run concurrently from tests, and the surface here is
// three flags and three commands.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "", "run":
		return runAssistant(ctx, stdin, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "status":
		return runStatus(ctx, stdout, stderr, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "help":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Carlos - Voice-Enabled AI Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: carlos [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run          Start the interactive assistant (default)")
	fmt.Fprintln(w, "  init [dir]   Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  status       Show dependent-service reachability")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintf(w, "  %s\n", strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// loadConfig locates and parses the YAML configuration. An explicit
// path must exist; otherwise the default locations are searched and,
// when nothing is found, built-in defaults apply.
func loadConfig(explicit string, logger *slog.Logger) (*config.Config, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, err
		}
		logger.Warn("no config file found, using defaults")
		return config.Default(), nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	logger.Info("config loaded", "path", cfgPath)
	return cfg, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// runStatus probes both services and prints a one-line summary each,
// plus the model inventory when the language-model service is up.
func runStatus(ctx context.Context, stdout, stderr io.Writer, configPath string) error {
	logger := newLogger(stderr, slog.LevelWarn)
	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	l := launcher.New(logger)
	summary := l.StatusSummary(ctx,
		launcher.OllamaService(cfg.Ollama.BaseURL),
		launcher.TTSService(cfg.TTS.BaseURL, cfg.TTS.InstallDir))
	fmt.Fprint(stdout, summary)

	llmClient := llm.NewClient(llmConfig(cfg), nil, logger)
	if models, err := llmClient.ListModels(ctx); err == nil {
		fmt.Fprintf(stdout, "models (%d): %s\n", len(models), strings.Join(models, ", "))
	}

	if cfg.General.ArchivePath != "" {
		if archive, err := conversation.NewArchive(cfg.General.ArchivePath); err == nil {
			if n, err := archive.SessionCount(); err == nil {
				fmt.Fprintf(stdout, "archived sessions: %d\n", n)
			}
			archive.Close()
		}
	}
	return nil
}

func llmConfig(cfg *config.Config) llm.Config {
	return llm.Config{
		BaseURL:       cfg.Ollama.BaseURL,
		Model:         cfg.Ollama.Model,
		Timeout:       time.Duration(cfg.Ollama.TimeoutSec) * time.Second,
		UnloadTimeout: time.Duration(cfg.Ollama.UnloadTimeoutSec) * time.Second,
		MaxTokens:     cfg.Ollama.MaxTokens,
		Temperature:   cfg.Ollama.Temperature,
		SystemPrompt:  cfg.General.SystemPrompt,
	}
}

// runAssistant is the primary operating mode: gate on setup, bring up
// the dependent services, build the clients, and hand control to the
// interactive session. The language-model service is required; speech
// degrades to text-only when any piece of it is missing.
func runAssistant(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	logger := newLogger(stderr, slog.LevelInfo)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stderr, level)
	}
	logger.Info("starting Carlos", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	if !launcher.SetupComplete(cfg.General.SetupDir) {
		return fmt.Errorf("setup has not been completed: %s not found in %s (run the setup script first)",
			launcher.SetupFlagFile, cfg.General.SetupDir)
	}

	// Interrupt converges on the same shutdown path as the quit
	// command: the session observes cancellation between turns.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	l := launcher.New(logger)

	fmt.Fprintln(stdout, "Checking language-model service...")
	if !l.EnsureRunning(ctx, launcher.OllamaService(cfg.Ollama.BaseURL)) {
		return fmt.Errorf("language-model service is not reachable at %s and could not be started", cfg.Ollama.BaseURL)
	}

	store := conversation.NewStore(cfg.General.MaxHistoryTurns)
	llmClient := llm.NewClient(llmConfig(cfg), store, logger)

	fmt.Fprintln(stdout, "Testing model connection...")
	if err := llmClient.TestConnection(ctx); err != nil {
		return fmt.Errorf("model connection test failed: %w", err)
	}
	fmt.Fprintf(stdout, "Model ready: %s\n", llmClient.Model())

	// Everything below is optional. A missing synthesizer or audio
	// player means a text-only session, not a failed one.
	var speech session.Synthesizer
	var queue session.Playback
	if cfg.TTS.Enabled {
		speech, queue = setupSpeech(ctx, cfg, l, stdout, logger)
	}

	var archive session.Archiver
	if cfg.General.ArchivePath != "" {
		a, err := conversation.NewArchive(cfg.General.ArchivePath)
		if err != nil {
			logger.Warn("conversation archive unavailable", "path", cfg.General.ArchivePath, "error", err)
		} else {
			defer a.Close()
			archive = a
		}
	}

	fmt.Fprintln(stdout, "Carlos is ready to chat.")
	sess := session.New(session.Options{
		Store:         store,
		LLM:           llmClient,
		Speech:        speech,
		Queue:         queue,
		Archive:       archive,
		Logger:        logger,
		Input:         stdin,
		Output:        stdout,
		SpeechEnabled: cfg.TTS.Enabled,
		Volume:        cfg.TTS.Volume,
	})
	return sess.Run(ctx)
}

// setupSpeech brings up the synthesis service and local audio playback.
// Any failure returns nils and the assistant continues text-only.
func setupSpeech(ctx context.Context, cfg *config.Config, l *launcher.Launcher, stdout io.Writer, logger *slog.Logger) (session.Synthesizer, session.Playback) {
	fmt.Fprintln(stdout, "Checking speech service...")
	if !l.EnsureRunning(ctx, launcher.TTSService(cfg.TTS.BaseURL, cfg.TTS.InstallDir)) {
		fmt.Fprintln(stdout, "Speech service unavailable. Continuing in text-only mode.")
		return nil, nil
	}

	client := tts.NewClient(tts.Config{
		BaseURL:         cfg.TTS.BaseURL,
		Voice:           cfg.TTS.Voice,
		Volume:          cfg.TTS.Volume,
		Timeout:         time.Duration(cfg.TTS.TimeoutSec) * time.Second,
		MaxSpeechLength: cfg.TTS.MaxSpeechLength,
	}, logger)

	if err := client.TestConnection(ctx); err != nil {
		fmt.Fprintln(stdout, "Speech service did not answer. Continuing in text-only mode.")
		logger.Warn("speech connection test failed", "error", err)
		return nil, nil
	}

	player, err := audio.NewCommandPlayer(cfg.Audio.Player, logger)
	if err != nil {
		fmt.Fprintln(stdout, "No audio player available. Continuing in text-only mode.")
		logger.Warn("audio player discovery failed", "error", err)
		return nil, nil
	}

	return client, audio.NewQueue(player, cfg.Audio.TempDir, logger)
}
