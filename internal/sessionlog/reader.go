package sessionlog

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/agentgateway/internal/apierr"
)

// Reader reads and mutates NDJSON session logs under one agent root.
type Reader struct {
	agentRoot string
}

// New creates a Reader rooted at agentRoot (the directory holding one
// subdirectory per project alias).
func New(agentRoot string) *Reader {
	return &Reader{agentRoot: agentRoot}
}

// ListResult is the paginated result of ListSessions.
type ListResult struct {
	Sessions []Summary `json:"sessions"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"hasMore"`
}

// sessionAccum merges per-sessionId state across every file it appears
// in. "First writer wins" governs which
// file's summary/cwd seed the accumulator; messageCount and
// lastActivity are always a union across every file.
type sessionAccum struct {
	id              string
	summaryOverride string
	defaultSummary  string
	cwd             string
	lastActivity    string
	messageCount    int
	seeded          bool
}

// rawParsedLine is one parsed NDJSON line plus its original bytes.
type rawParsedLine struct {
	line logLine
	raw  []byte
}

// readFileLines reads every line of path, parsing what it can and
// preserving raw bytes for every line (parseable or not) so deletion
// can rewrite the file without losing malformed content.
func readFileLines(path string) []rawParsedLine {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []rawParsedLine
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		raw := append([]byte(nil), scanner.Bytes()...)
		trimmed := strings.TrimSpace(string(raw))
		if trimmed == "" {
			out = append(out, rawParsedLine{raw: raw})
			continue
		}
		var ll logLine
		if err := json.Unmarshal([]byte(trimmed), &ll); err != nil {
			slog.Warn("sessionlog: skipping malformed line", "path", path, "error", err)
			out = append(out, rawParsedLine{raw: raw})
			continue
		}
		ll.raw = json.RawMessage(trimmed)
		out = append(out, rawParsedLine{line: ll, raw: raw})
	}
	return out
}

// jsonlFilesNewestFirst lists *.jsonl files under the alias directory
// sorted by descending mtime.
func (r *Reader) jsonlFilesNewestFirst(alias string) ([]string, error) {
	dir := filepath.Join(r.agentRoot, alias)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type fileInfo struct {
		path    string
		modTime int64
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(dir, e.Name()), modTime: info.ModTime().UnixNano()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime > files[j].modTime })

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// isQualifyingMessage reports whether a log line counts toward
// messageCount: only role in {user, assistant} lines qualify.
func isQualifyingMessage(ll logLine) bool {
	return ll.Message != nil && (ll.Message.Role == "user" || ll.Message.Role == "assistant")
}

// firstUserSummaryCandidate reports whether ll can serve as the default
// session title: a user message, truncated to 50 chars, skipping
// command-prefixed lines. applyLine keeps the first candidate it sees.
func firstUserSummaryCandidate(ll logLine) (string, bool) {
	if ll.Message == nil || ll.Message.Role != "user" {
		return "", false
	}
	text := strings.TrimSpace(ll.Message.Content.FlatText())
	if text == "" || strings.HasPrefix(text, "<command-name>") {
		return "", false
	}
	if len(text) > 50 {
		text = text[:50]
	}
	return text, true
}

func applyLine(acc *sessionAccum, ll logLine) {
	if !acc.seeded {
		acc.seeded = true
		acc.cwd = ll.Cwd
	}
	if ll.Type == "summary" && ll.Summary != "" && acc.summaryOverride == "" {
		acc.summaryOverride = ll.Summary
	}
	if acc.defaultSummary == "" {
		if s, ok := firstUserSummaryCandidate(ll); ok {
			acc.defaultSummary = s
		}
	}
	if isQualifyingMessage(ll) {
		acc.messageCount++
	}
	if ll.Timestamp > acc.lastActivity {
		acc.lastActivity = ll.Timestamp
	}
}

// ListSessions merges sessions across every .jsonl file in the alias
// directory and paginates the result.
func (r *Reader) ListSessions(alias string, limit, offset int) (ListResult, error) {
	files, err := r.jsonlFilesNewestFirst(alias)
	if err != nil {
		return ListResult{}, apierr.Wrap(apierr.Internal, err)
	}

	accums := make(map[string]*sessionAccum)
	var order []string
	for _, path := range files {
		for _, rpl := range readFileLines(path) {
			if rpl.line.SessionID == "" {
				continue
			}
			acc, ok := accums[rpl.line.SessionID]
			if !ok {
				acc = &sessionAccum{id: rpl.line.SessionID}
				accums[rpl.line.SessionID] = acc
				order = append(order, rpl.line.SessionID)
			}
			applyLine(acc, rpl.line)
		}
	}

	summaries := make([]Summary, 0, len(order))
	for _, id := range order {
		acc := accums[id]
		summary := acc.summaryOverride
		if summary == "" {
			summary = acc.defaultSummary
		}
		summaries = append(summaries, Summary{
			ID:           acc.id,
			Summary:      summary,
			LastActivity: acc.lastActivity,
			MessageCount: acc.messageCount,
			Cwd:          acc.cwd,
		})
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].LastActivity > summaries[j].LastActivity })

	total := len(summaries)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if limit <= 0 || end > total {
		end = total
	}
	page := summaries[start:end]

	return ListResult{
		Sessions: page,
		Total:    total,
		HasMore:  end < total,
	}, nil
}

// MessagesResult is the result of GetMessages with pagination.
type MessagesResult struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"hasMore"`
}

// GetMessages returns a session's messages in chronological order.
// When limit is nil, the full list is returned. Otherwise it returns
// the last `limit` messages, offset from the tail (offset counts from
// the newest message).
func (r *Reader) GetMessages(alias, sessionID string, limit *int, offset int) (MessagesResult, error) {
	files, err := r.jsonlFilesNewestFirst(alias)
	if err != nil {
		return MessagesResult{}, apierr.Wrap(apierr.Internal, err)
	}

	type tsMessage struct {
		ts  string
		msg Message
	}
	var all []tsMessage
	found := false
	for _, path := range files {
		for _, rpl := range readFileLines(path) {
			if rpl.line.SessionID != sessionID || rpl.line.Message == nil {
				continue
			}
			found = true
			if rpl.line.Message.Role != "user" && rpl.line.Message.Role != "assistant" {
				continue
			}
			all = append(all, tsMessage{
				ts: rpl.line.Timestamp,
				msg: Message{
					Role:      rpl.line.Message.Role,
					Content:   rpl.line.Message.Content,
					Timestamp: rpl.line.Timestamp,
				},
			})
		}
	}
	if !found {
		return MessagesResult{}, apierr.New(apierr.NotFound, "session not found: %s", sessionID)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].ts < all[j].ts })

	messages := make([]Message, len(all))
	for i, m := range all {
		messages[i] = m.msg
	}

	total := len(messages)
	if limit == nil {
		return MessagesResult{Messages: messages, Total: total, HasMore: false}, nil
	}

	end := total - offset
	if end < 0 {
		end = 0
	}
	if end > total {
		end = total
	}
	start := end - *limit
	if start < 0 {
		start = 0
	}

	return MessagesResult{
		Messages: messages[start:end],
		Total:    total,
		HasMore:  start > 0,
	}, nil
}

// DeleteSession rewrites every .jsonl file containing the session,
// dropping its lines. Fails if no file contains the session.
func (r *Reader) DeleteSession(alias, sessionID string) error {
	files, err := r.jsonlFilesNewestFirst(alias)
	if err != nil {
		return apierr.Wrap(apierr.Internal, err)
	}

	touched := false
	for _, path := range files {
		lines := readFileLines(path)

		contains := false
		for _, l := range lines {
			if l.line.SessionID == sessionID {
				contains = true
				break
			}
		}
		if !contains {
			continue
		}
		touched = true

		kept := make([][]byte, 0, len(lines))
		for _, l := range lines {
			if l.line.SessionID == sessionID {
				continue
			}
			kept = append(kept, l.raw)
		}

		body := strings.Join(bytesToStrings(kept), "\n")
		if body != "" {
			body += "\n"
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return apierr.Wrap(apierr.Internal, err)
		}
	}

	if !touched {
		return apierr.New(apierr.NotFound, "session not found: %s", sessionID)
	}
	return nil
}

func bytesToStrings(bs [][]byte) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	return out
}
