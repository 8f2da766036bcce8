package audio

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/carlosai/carlos/internal/tts"
)

// Queue serializes playback of speech jobs. Jobs play in enqueue
// order, one at a time, on a background worker that is spawned lazily
// and exits when the queue drains. Each job's audio file is removed
// after playback whether or not playback succeeded.
type Queue struct {
	player  Player
	logger  *slog.Logger
	tempDir string

	mu       sync.Mutex
	jobs     []*tts.SpeechJob
	draining bool
	current  *tts.SpeechJob
}

// NewQueue creates a playback queue. tempDir, when non-empty, is swept
// for leftover audio files during Cleanup.
func NewQueue(player Player, tempDir string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{player: player, logger: logger, tempDir: tempDir}
}

// Enqueue appends a job and ensures a playback worker is running. It
// never blocks on playback; the caller returns to its loop
// immediately. Nil jobs are ignored.
func (q *Queue) Enqueue(job *tts.SpeechJob) {
	if job == nil {
		return
	}

	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	spawn := !q.draining
	if spawn {
		q.draining = true
	}
	q.mu.Unlock()

	if spawn {
		go q.drain()
	}
}

// drain is the worker loop. The empty queue is its sole exit: it marks
// itself inactive under the same lock that saw the queue empty, so a
// later Enqueue always observes either a live worker or none.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.draining = false
			q.current = nil
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.current = job
		q.mu.Unlock()

		if err := q.player.Play(context.Background(), job.AudioPath); err != nil {
			q.logger.Error("playback failed", "job_id", job.ID, "path", job.AudioPath, "error", err)
		}

		// Spent audio is not kept around. Removal failure is not
		// worth surfacing.
		_ = os.Remove(job.AudioPath)

		q.mu.Lock()
		q.current = nil
		q.mu.Unlock()
	}
}

// Stop halts the current playback and discards all pending jobs. The
// worker notices the empty queue and exits on its own.
func (q *Queue) Stop() {
	q.player.Stop()

	q.mu.Lock()
	q.jobs = nil
	q.current = nil
	q.mu.Unlock()

	q.logger.Debug("playback stopped, queue cleared")
}

// Pending reports how many jobs wait behind the one playing.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Active reports whether a worker is alive (playing or between jobs).
func (q *Queue) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

// Cleanup stops playback and removes any audio files left in the
// temp directory. Called once during shutdown.
func (q *Queue) Cleanup() {
	q.Stop()

	if q.tempDir == "" {
		return
	}
	entries, err := os.ReadDir(q.tempDir)
	if err != nil {
		return
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if os.Remove(filepath.Join(q.tempDir, e.Name())) == nil {
			removed++
		}
	}
	if removed > 0 {
		q.logger.Debug("removed leftover audio files", "count", removed, "dir", q.tempDir)
	}
}
