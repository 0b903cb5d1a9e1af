package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ClaudeConversation represents a Claude export conversation
type ClaudeConversation struct {
	UUID         string          `json:"uuid"`
	Name         string          `json:"name"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ChatMessages []ClaudeMessage `json:"chat_messages"`
}

type ClaudeMessage struct {
	UUID      string    `json:"uuid"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"` // "human" or "assistant"
	CreatedAt time.Time `json:"created_at"`
}

// ClaudeImporter replays Claude conversations.
type ClaudeImporter struct {
	tracker Tracker
}

func NewClaudeImporter(t Tracker) *ClaudeImporter {
	return &ClaudeImporter{tracker: t}
}

// ImportFromFile imports a JSON array, a single conversation object or JSONL.
func (i *ClaudeImporter) ImportFromFile(ctx context.Context, filePath string) (*ImportResult, error) {
	start := time.Now()
	result := &ImportResult{}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var conversations []ClaudeConversation
	if strings.ToLower(filepath.Ext(filePath)) == ".jsonl" {
		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var conv ClaudeConversation
			if err := json.Unmarshal([]byte(line), &conv); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line parse error: %v", err))
				continue
			}
			conversations = append(conversations, conv)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("scanner error: %w", err)
		}
	} else {
		if err := json.NewDecoder(file).Decode(&conversations); err != nil {
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				return nil, fmt.Errorf("failed to rewind file: %w", err)
			}
			var single ClaudeConversation
			if err := json.NewDecoder(file).Decode(&single); err != nil {
				return nil, fmt.Errorf("failed to parse JSON: %w", err)
			}
			conversations = []ClaudeConversation{single}
		}
	}

	for _, conv := range conversations {
		result.ConversationsProcessed++
		var turns []string
		for _, msg := range conv.ChatMessages {
			if msg.Sender == "human" {
				if text := strings.TrimSpace(msg.Text); text != "" {
					turns = append(turns, text)
				}
			}
		}
		if err := track(ctx, i.tracker, conv.Name, turns, result); err != nil {
			return nil, err
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// ImportFromDirectory imports all JSON and JSONL files below dirPath.
func (i *ClaudeImporter) ImportFromDirectory(ctx context.Context, dirPath string) (*ImportResult, error) {
	return importDirectory(ctx, dirPath, []string{".json", ".jsonl"}, i.ImportFromFile)
}
