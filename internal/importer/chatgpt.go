package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// ChatGPTConversation represents a ChatGPT export conversation
type ChatGPTConversation struct {
	Title       string                 `json:"title"`
	CreateTime  float64                `json:"create_time"`
	UpdateTime  float64                `json:"update_time"`
	Mapping     map[string]ChatGPTNode `json:"mapping"`
	CurrentNode string                 `json:"current_node,omitempty"`
}

// ChatGPTNode represents a node in the conversation tree
type ChatGPTNode struct {
	ID       string          `json:"id"`
	Message  *ChatGPTMessage `json:"message,omitempty"`
	Parent   *string         `json:"parent,omitempty"`
	Children []string        `json:"children,omitempty"`
}

// ChatGPTMessage represents a message in ChatGPT format
type ChatGPTMessage struct {
	ID         string         `json:"id"`
	Author     ChatGPTAuthor  `json:"author"`
	CreateTime *float64       `json:"create_time,omitempty"`
	Content    ChatGPTContent `json:"content"`
	Status     string         `json:"status,omitempty"`
}

type ChatGPTAuthor struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

type ChatGPTContent struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts,omitempty"`
}

// ChatGPTImporter replays ChatGPT conversations.
type ChatGPTImporter struct {
	tracker Tracker
}

func NewChatGPTImporter(t Tracker) *ChatGPTImporter {
	return &ChatGPTImporter{tracker: t}
}

// ImportFromFile imports conversations from a conversations.json export.
func (i *ChatGPTImporter) ImportFromFile(ctx context.Context, filePath string) (*ImportResult, error) {
	start := time.Now()
	result := &ImportResult{}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var export []ChatGPTConversation
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	for _, conv := range export {
		result.ConversationsProcessed++
		if err := track(ctx, i.tracker, conv.Title, userTurns(conv), result); err != nil {
			return nil, err
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// ImportFromDirectory imports all JSON files below dirPath.
func (i *ChatGPTImporter) ImportFromDirectory(ctx context.Context, dirPath string) (*ImportResult, error) {
	return importDirectory(ctx, dirPath, []string{".json"}, i.ImportFromFile)
}

// userTurns returns the user text messages of the conversation in order.
func userTurns(conv ChatGPTConversation) []string {
	var out []string
	for _, node := range flattenConversation(conv) {
		m := node.Message
		if m == nil || m.Author.Role != "user" || m.Content.ContentType != "text" {
			continue
		}
		if text := strings.TrimSpace(strings.Join(m.Content.Parts, "\n")); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// flattenConversation linearizes the message tree. When current_node is set
// only the active branch (walked back through parents) is kept; otherwise the
// whole tree is visited depth first from its roots.
func flattenConversation(conv ChatGPTConversation) []ChatGPTNode {
	if node, ok := conv.Mapping[conv.CurrentNode]; ok {
		var branch []ChatGPTNode
		seen := make(map[string]bool)
		for ok && !seen[node.ID] {
			seen[node.ID] = true
			branch = append(branch, node)
			if node.Parent == nil {
				break
			}
			node, ok = conv.Mapping[*node.Parent]
		}
		for l, r := 0, len(branch)-1; l < r; l, r = l+1, r-1 {
			branch[l], branch[r] = branch[r], branch[l]
		}
		return branch
	}

	var roots []string
	for id, node := range conv.Mapping {
		if node.Parent == nil || *node.Parent == "" {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)

	var result []ChatGPTNode
	seen := make(map[string]bool)
	var traverse func(id string)
	traverse = func(id string) {
		node, ok := conv.Mapping[id]
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		result = append(result, node)
		for _, childID := range node.Children {
			traverse(childID)
		}
	}
	for _, root := range roots {
		traverse(root)
	}
	return result
}
