// Package importer replays exported ChatGPT and Claude conversations through
// the tracker so past chats count as learning evidence.
package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CanopyHQ/synapse/internal/synapse"
)

// Tracker consumes chat turns. *synapse.Service satisfies it.
type Tracker interface {
	TrackMessage(ctx context.Context, m synapse.Message) (*synapse.TrackResult, error)
}

// ImportResult tracks import statistics
type ImportResult struct {
	ConversationsProcessed int           `json:"conversations"`
	TurnsTracked           int           `json:"turns_tracked"`
	TurnsSkipped           int           `json:"turns_skipped"`
	Hits                   int           `json:"hits"`
	Promotions             int           `json:"promotions"`
	Errors                 []string      `json:"errors,omitempty"`
	Duration               time.Duration `json:"duration"`
}

func (r *ImportResult) merge(o *ImportResult) {
	r.ConversationsProcessed += o.ConversationsProcessed
	r.TurnsTracked += o.TurnsTracked
	r.TurnsSkipped += o.TurnsSkipped
	r.Hits += o.Hits
	r.Promotions += o.Promotions
	r.Errors = append(r.Errors, o.Errors...)
}

// track replays the user turns of one conversation. Errors are collected per
// turn so one bad message doesn't stop the import.
func track(ctx context.Context, t Tracker, title string, turns []string, res *ImportResult) error {
	for _, text := range turns {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !isSubstantive(text) {
			res.TurnsSkipped++
			continue
		}
		out, err := t.TrackMessage(ctx, synapse.Message{Role: "user", Text: truncate(text, maxTurnLen), TopicHint: title})
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("conversation %s: %v", title, err))
			continue
		}
		res.TurnsTracked++
		res.Hits += len(out.Hits)
		res.Promotions += len(out.Promoted)
	}
	return nil
}

const maxTurnLen = 8000

// isSubstantive drops greetings and one-word turns that can't evidence anything.
func isSubstantive(text string) bool {
	text = strings.TrimSpace(text)
	if len(text) < 12 {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range []string{"hello", "hi there", "hey", "thanks", "thank you", "bye", "goodbye"} {
		if strings.HasPrefix(lower, phrase) && len(lower) < len(phrase)+24 {
			return false
		}
	}
	return true
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// importDirectory walks dir and imports every file whose extension is in exts.
func importDirectory(ctx context.Context, dirPath string, exts []string, importFile func(context.Context, string) (*ImportResult, error)) (*ImportResult, error) {
	combined := &ImportResult{}
	start := time.Now()

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		lower := strings.ToLower(path)
		for _, ext := range exts {
			if !strings.HasSuffix(lower, ext) {
				continue
			}
			result, err := importFile(ctx, path)
			if err != nil {
				combined.Errors = append(combined.Errors, fmt.Sprintf("%s: %v", path, err))
				return nil // keep going with the other files
			}
			combined.merge(result)
			return nil
		}
		return nil
	})

	combined.Duration = time.Since(start)
	return combined, err
}
