package acceptance

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/CanopyHQ/synapse/internal/config"
	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/mcp"
	"github.com/CanopyHQ/synapse/internal/recommend"
	"github.com/CanopyHQ/synapse/internal/store"
	"github.com/CanopyHQ/synapse/internal/synapse"
)

var scenarioNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// TestContext holds state between steps
type TestContext struct {
	ctx     context.Context
	dataDir string
	svc     *synapse.Service

	meta      []synapse.Meta
	lastTrack *synapse.TrackResult
	lastRecs  []recommend.Recommendation

	// MCP server state
	server       *mcp.Server
	serverIn     *io.PipeWriter
	serverOut    *io.PipeReader
	serverReader *bufio.Reader
	serverDone   chan error
	lastResponse map[string]interface{}
	nextID       int
}

// freshEngine opens an empty store in a temp directory with inference disabled.
func (tc *TestContext) freshEngine() error {
	dir, err := os.MkdirTemp("", "synapse-acceptance-*")
	if err != nil {
		return err
	}
	tc.dataDir = dir

	cfg := config.Default()
	cfg.DataDir = dir
	s, err := store.OpenInDir(dir, nil)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	tc.svc = synapse.New(s, cfg, nil, synapse.Options{})
	tc.svc.Ranker().Now = func() time.Time { return scenarioNow }
	return nil
}

func (tc *TestContext) teardown() {
	if tc.serverIn != nil {
		tc.serverIn.Close()
		tc.serverOut.Close()
		<-tc.serverDone
		tc.serverIn = nil
	}
	if tc.svc != nil {
		tc.svc.Close()
		tc.svc = nil
	}
	if tc.dataDir != "" {
		os.RemoveAll(tc.dataDir)
		tc.dataDir = ""
	}
	tc.server = nil
	tc.meta = nil
	tc.lastTrack = nil
	tc.lastRecs = nil
	tc.lastResponse = nil
}

// ============================================================================
// Engine steps
// ============================================================================

func (tc *TestContext) ingestDomain(doc *godog.DocString) error {
	_, err := tc.svc.IngestGraph(tc.ctx, graph.Domain, doc.Content, nil)
	return err
}

func (tc *TestContext) ingestSyllabus(doc *godog.DocString) error {
	res, err := tc.svc.IngestGraph(tc.ctx, graph.Syllabus, doc.Content, tc.meta)
	if err != nil {
		return err
	}
	if res.Provenance != len(tc.meta) {
		return fmt.Errorf("provenance applied to %d of %d concept(s)", res.Provenance, len(tc.meta))
	}
	return nil
}

// assignmentDue queues provenance for the next syllabus ingest.
func (tc *TestContext) assignmentDue(label string, id, days int) error {
	due := scenarioNow.Add(time.Duration(days)*24*time.Hour - time.Hour).Format(time.RFC3339)
	meta, err := synapse.ParseMeta([]byte(fmt.Sprintf(`
- label: %s
  provenance:
    type: assignment
    id: %d
    due_at: %s
`, label, id, due)))
	if err != nil {
		return err
	}
	tc.meta = append(tc.meta, meta...)
	return nil
}

func (tc *TestContext) track(role, text string) error {
	res, err := tc.svc.TrackMessage(tc.ctx, synapse.Message{Role: role, Text: text})
	if err != nil {
		return err
	}
	tc.lastTrack = res
	return nil
}

func (tc *TestContext) learnerSays(text string) error {
	return tc.track("user", text)
}

func (tc *TestContext) assistantSays(text string) error {
	return tc.track("assistant", text)
}

func (tc *TestContext) runAlignments() error {
	_, err := tc.svc.Align(tc.ctx)
	return err
}

func (tc *TestContext) askNextUp() error {
	recs, err := tc.svc.NextUp(tc.ctx, recommend.DefaultLimit)
	if err != nil {
		return err
	}
	tc.lastRecs = recs
	return nil
}

func (tc *TestContext) conceptsDetected(n int) error {
	if tc.lastTrack == nil {
		return fmt.Errorf("no message tracked")
	}
	if len(tc.lastTrack.Hits) != n {
		return fmt.Errorf("expected %d detected concept(s), got %d", n, len(tc.lastTrack.Hits))
	}
	return nil
}

func (tc *TestContext) conceptHasMastery(label, mastery string) error {
	rep, err := tc.svc.Progress(tc.ctx)
	if err != nil {
		return err
	}
	for _, p := range rep.Items {
		if p.Label == label {
			if string(p.Mastery) != mastery {
				return fmt.Errorf("%s: expected mastery %s, got %s", label, mastery, p.Mastery)
			}
			return nil
		}
	}
	return fmt.Errorf("no progress recorded for %s", label)
}

func (tc *TestContext) personalGraphContains(label string) error {
	snap, err := tc.svc.Snapshot(tc.ctx, graph.Personal)
	if err != nil {
		return err
	}
	if !strings.Contains(snap.Text, fmt.Sprintf("[%q]", label)) {
		return fmt.Errorf("personal graph does not contain %q:\n%s", label, snap.Text)
	}
	return nil
}

func (tc *TestContext) personalGraphEmpty() error {
	concepts, err := tc.svc.Store().Concepts(tc.ctx, graph.Personal)
	if err != nil {
		return err
	}
	if len(concepts) != 0 {
		return fmt.Errorf("expected an empty personal graph, got %d concept(s)", len(concepts))
	}
	return nil
}

func (tc *TestContext) personalEdges() ([]store.LabeledEdge, error) {
	return tc.svc.Store().Edges(tc.ctx, graph.Personal)
}

func (tc *TestContext) personalEdge(src, dst string) error {
	edges, err := tc.personalEdges()
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.SrcLabel == src && e.DstLabel == dst {
			return nil
		}
	}
	return fmt.Errorf("no personal edge %s -> %s among %d edge(s)", src, dst, len(edges))
}

func (tc *TestContext) personalNoEdges() error {
	edges, err := tc.personalEdges()
	if err != nil {
		return err
	}
	if len(edges) != 0 {
		return fmt.Errorf("expected no personal edges, got %d", len(edges))
	}
	return nil
}

func (tc *TestContext) firstRecommendation(label string) error {
	if len(tc.lastRecs) == 0 {
		return fmt.Errorf("no recommendations")
	}
	if tc.lastRecs[0].Label != label {
		return fmt.Errorf("expected %s first, got %s", label, tc.lastRecs[0].Label)
	}
	return nil
}

func (tc *TestContext) firstDueIn(days int) error {
	if len(tc.lastRecs) == 0 {
		return fmt.Errorf("no recommendations")
	}
	due := tc.lastRecs[0].DueInDays
	if due == nil || *due != days {
		return fmt.Errorf("expected due in %d days, got %v", days, due)
	}
	return nil
}

func (tc *TestContext) recommended(label string) bool {
	for _, r := range tc.lastRecs {
		if r.Label == label {
			return true
		}
	}
	return false
}

func (tc *TestContext) isRecommended(label string) error {
	if !tc.recommended(label) {
		return fmt.Errorf("%s was not recommended", label)
	}
	return nil
}

func (tc *TestContext) isNotRecommended(label string) error {
	if tc.recommended(label) {
		return fmt.Errorf("%s should not be recommended", label)
	}
	return nil
}

func (tc *TestContext) exactAlignments(n int) error {
	aligns, err := tc.svc.Store().Alignments(tc.ctx, graph.MethodExact)
	if err != nil {
		return err
	}
	if len(aligns) != n {
		return fmt.Errorf("expected %d exact alignment(s), got %d", n, len(aligns))
	}
	return nil
}

// ============================================================================
// MCP server steps
// ============================================================================

// mcpServerRunning serves a fresh engine over in-memory pipes.
func (tc *TestContext) mcpServerRunning() error {
	if tc.svc == nil {
		if err := tc.freshEngine(); err != nil {
			return err
		}
	}
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	tc.server = mcp.NewServerWithService(tc.svc, inR, outW, nil)
	tc.serverIn = inW
	tc.serverOut = outR
	tc.serverReader = bufio.NewReader(outR)
	tc.serverDone = make(chan error, 1)
	go func() {
		err := tc.server.Start()
		outW.Close()
		tc.serverDone <- err
	}()
	return nil
}

func (tc *TestContext) readServerResponse() (map[string]interface{}, error) {
	if tc.serverReader == nil {
		return nil, fmt.Errorf("server stdout not initialized")
	}

	line, err := tc.serverReader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}

	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp, nil
}

// request sends one JSON-RPC request and keeps its result, or its error
// marked with isError.
func (tc *TestContext) request(method string, params interface{}) error {
	if tc.serverIn == nil {
		return fmt.Errorf("the MCP server is not running")
	}
	tc.nextID++
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      tc.nextID,
		"method":  method,
		"params":  params,
	}

	reqJSON, _ := json.Marshal(req)
	reqJSON = append(reqJSON, '\n')
	if _, err := tc.serverIn.Write(reqJSON); err != nil {
		return err
	}

	resp, err := tc.readServerResponse()
	if err != nil {
		return err
	}

	if errField, ok := resp["error"].(map[string]interface{}); ok {
		tc.lastResponse = map[string]interface{}{
			"isError": true,
			"error":   errField,
		}
		return nil
	}
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("invalid response format")
	}
	tc.lastResponse = result
	return nil
}

func (tc *TestContext) sendMCPInitialize() error {
	return tc.request("initialize", map[string]interface{}{})
}

func (tc *TestContext) checkValidInitResponse() error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if _, ok := tc.lastResponse["protocolVersion"]; !ok {
		return fmt.Errorf("protocolVersion missing")
	}
	return nil
}

func (tc *TestContext) checkProtocolVersion(version string) error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if v, ok := tc.lastResponse["protocolVersion"].(string); !ok || v != version {
		return fmt.Errorf("expected protocol version %s, got %v", version, tc.lastResponse["protocolVersion"])
	}
	return nil
}

func (tc *TestContext) checkServerName(name string) error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	info, ok := tc.lastResponse["serverInfo"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("serverInfo missing")
	}
	if n, ok := info["name"].(string); !ok || n != name {
		return fmt.Errorf("expected server name %s, got %v", name, info["name"])
	}
	return nil
}

func (tc *TestContext) requestToolsList() error {
	return tc.request("tools/list", map[string]interface{}{})
}

func (tc *TestContext) requestResourcesList() error {
	return tc.request("resources/list", map[string]interface{}{})
}

func (tc *TestContext) checkListContains(item string) error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}

	if tools, ok := tc.lastResponse["tools"].([]interface{}); ok {
		for _, tool := range tools {
			toolMap := tool.(map[string]interface{})
			if name, ok := toolMap["name"].(string); ok && name == item {
				return nil
			}
		}
	}

	if resources, ok := tc.lastResponse["resources"].([]interface{}); ok {
		for _, resource := range resources {
			resourceMap := resource.(map[string]interface{})
			if uri, ok := resourceMap["uri"].(string); ok && uri == item {
				return nil
			}
			if name, ok := resourceMap["name"].(string); ok && name == item {
				return nil
			}
		}
	}

	return fmt.Errorf("item %s not found in list", item)
}

func (tc *TestContext) callTool(name string, args map[string]interface{}) error {
	return tc.request("tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
}

func (tc *TestContext) ingestThroughMCP(target string, doc *godog.DocString) error {
	if err := tc.callTool("ingest_graph", map[string]interface{}{
		"graph":   target,
		"mermaid": doc.Content,
	}); err != nil {
		return err
	}
	return tc.checkSuccessResponse()
}

func (tc *TestContext) callMCPTool(name string) error {
	return tc.callTool(name, map[string]interface{}{})
}

func (tc *TestContext) callMCPToolWithMessage(name, message string) error {
	return tc.callTool(name, map[string]interface{}{"message": message})
}

func (tc *TestContext) readMCPResource(uri string) error {
	return tc.request("resources/read", map[string]interface{}{"uri": uri})
}

func (tc *TestContext) checkSuccessResponse() error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if isError, ok := tc.lastResponse["isError"].(bool); ok && isError {
		return fmt.Errorf("response indicates error: %s", tc.resultText())
	}
	return nil
}

func (tc *TestContext) checkErrorResponse() error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if isError, ok := tc.lastResponse["isError"].(bool); ok && isError {
		return nil
	}
	return errors.New("expected an error response")
}

// resultText joins the text of a tool result or a resource read.
func (tc *TestContext) resultText() string {
	var sb strings.Builder
	for _, key := range []string{"content", "contents"} {
		items, _ := tc.lastResponse[key].([]interface{})
		for _, item := range items {
			if m, ok := item.(map[string]interface{}); ok {
				if text, ok := m["text"].(string); ok {
					sb.WriteString(text)
				}
			}
		}
	}
	return sb.String()
}

func (tc *TestContext) resultContains(s string) error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if text := tc.resultText(); !strings.Contains(text, s) {
		return fmt.Errorf("result does not contain %q:\n%s", s, text)
	}
	return nil
}
