package launcher

import (
	"path/filepath"
	"runtime"
	"time"
)

// OllamaService describes the language-model service: how to probe it
// and the platform-specific ways to bring it up. Ollama loads multi-GB
// models, so direct-start strategies get a longer settle than the
// service-manager path.
func OllamaService(baseURL string) *Service {
	svc := &Service{
		Name:           "ollama",
		BaseURL:        baseURL,
		ProbeEndpoints: []string{"/api/tags"},
	}

	switch runtime.GOOS {
	case "windows":
		svc.Strategies = []Strategy{
			foregroundStrategy("windows service manager", 3*time.Second, "sc", "start", "ollama"),
			commandStrategy("ollama on PATH", 5*time.Second, "ollama", "serve"),
			commandStrategy("program files install", 5*time.Second,
				`C:\Program Files\Ollama\ollama.exe`, "serve"),
			commandStrategy("chocolatey install", 5*time.Second,
				`C:\ProgramData\chocolatey\bin\ollama.exe`, "serve"),
		}
	case "linux":
		svc.Strategies = []Strategy{
			foregroundStrategy("systemd unit", 3*time.Second, "systemctl", "start", "ollama"),
			commandStrategy("ollama on PATH", 5*time.Second, "ollama", "serve"),
			commandStrategy("usr local install", 5*time.Second, "/usr/local/bin/ollama", "serve"),
		}
	default: // darwin and the rest
		svc.Strategies = []Strategy{
			commandStrategy("ollama on PATH", 5*time.Second, "ollama", "serve"),
			commandStrategy("homebrew install", 5*time.Second, "/opt/homebrew/bin/ollama", "serve"),
			commandStrategy("usr local install", 5*time.Second, "/usr/local/bin/ollama", "serve"),
		}
	}

	return svc
}

// TTSService describes the speech-synthesis server. installDir is where
// the TTS software was set up (by the installer, outside this program's
// scope). The server warms up slowly — model loading dominates — so
// settle times run long. Probing is tolerant because some builds answer
// only on their docs or root paths.
func TTSService(baseURL, installDir string) *Service {
	svc := &Service{
		Name:           "tts",
		BaseURL:        baseURL,
		ProbeEndpoints: []string{"/api/voices", "/api/status", "/", "/docs"},
		Tolerant:       true,
	}

	scripts := []string{
		filepath.Join(installDir, "tts_server.py"),
		filepath.Join(installDir, "system", "tts_server.py"),
	}
	for _, script := range scripts {
		for _, py := range pythonCandidates() {
			svc.Strategies = append(svc.Strategies,
				commandStrategy("tts server via "+py, 12*time.Second, py, script))
		}
	}

	return svc
}

func pythonCandidates() []string {
	if runtime.GOOS == "windows" {
		return []string{"python"}
	}
	return []string{"python3", "python"}
}
