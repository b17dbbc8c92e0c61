// File: internal/parser/parser.go

// Package parser extracts structured action descriptors from the tagged
// free-form text a model emits. Scanning is substring-based on purpose: the
// grammar tolerates surrounding prose and multiple non-overlapping blocks in
// one response, and an unterminated tag is simply absent rather than fatal.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Tag names of the action grammar.
const (
	TagResult        = "result"
	TagCompletion    = "attempt_completion"
	TagBrowserAction = "browser_action"
	TagMCPTool       = "use_mcp_tool"
	TagCronJob       = "cronjob"
)

var (
	actionRe     = regexp.MustCompile(`<action>(\w+)</action>`)
	coordinateRe = regexp.MustCompile(`<coordinate>(\d+),\s*(\d+)</coordinate>`)
	intervalRe   = regexp.MustCompile(`<interval>(\d+)</interval>`)
	startTimeRe  = regexp.MustCompile(`<start_time>([^<]+)</start_time>`)
)

// Point is a coordinate pair in the logical screenshot space.
type Point struct {
	X int
	Y int
}

// BrowserAction is one parsed <browser_action> block. Absent optional
// sub-tags are left as zero values; Coordinate is nil when no coordinate
// tag was present.
type BrowserAction struct {
	Kind       string
	URL        string
	Coordinate *Point
	Text       string
}

// MCPToolRequest is one parsed <use_mcp_tool> block.
type MCPToolRequest struct {
	ServerName string
	ToolName   string
	Arguments  map[string]any
}

// CronJobRequest is one parsed <cronjob> block. Query carries the literal
// payload including its <query> tags so it can be replayed verbatim later.
// StartTime is the raw timestamp string, empty when absent.
type CronJobRequest struct {
	IntervalSeconds int
	StartTime       string
	Query           string
}

// ParseError reports malformed content inside a recognized block. It is
// recoverable: callers surface it to the model as an observation so the model
// can correct itself.
type ParseError struct {
	Element string
	Reason  string
}

func (e *ParseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing <%s> element", e.Element)
	}
	return fmt.Sprintf("invalid <%s> element: %s", e.Element, e.Reason)
}

// FirstBlock locates the first complete <tag>...</tag> pair in text and
// returns the inner content. An opening tag with no later closing tag counts
// as absent.
func FirstBlock(text, tag string) (string, bool) {
	open := "<" + tag + ">"
	close := "</" + tag + ">"

	start := strings.Index(text, open)
	if start < 0 {
		return "", false
	}
	innerStart := start + len(open)
	rel := strings.Index(text[innerStart:], close)
	if rel < 0 {
		return "", false
	}
	return text[innerStart : innerStart+rel], true
}

// ExtractResult buffers the content of every <result> span in text, in
// order. A trailing span whose closing tag never arrives is buffered as-is;
// it still counts as found, since the opening tag alone marks the turn
// terminal.
func ExtractResult(text string) (string, bool) {
	const open = "<" + TagResult + ">"
	const close = "</" + TagResult + ">"

	var sb strings.Builder
	found := false
	rest := text
	for {
		start := strings.Index(rest, open)
		if start < 0 {
			break
		}
		found = true
		rest = rest[start+len(open):]
		end := strings.Index(rest, close)
		if end < 0 {
			sb.WriteString(rest)
			break
		}
		sb.WriteString(rest[:end])
		rest = rest[end+len(close):]
	}
	return sb.String(), found
}

// IsTerminal reports whether text ends the agent loop: either an explicit
// completion marker or the opening of a result block.
func IsTerminal(text string) bool {
	return strings.Contains(text, "</"+TagCompletion+">") ||
		strings.Contains(text, "<"+TagResult+">")
}

// ParseBrowserAction parses the inner fields of one <browser_action> block.
// A missing or malformed <action> tag yields nil, not an error.
func ParseBrowserAction(block string) *BrowserAction {
	m := actionRe.FindStringSubmatch(block)
	if m == nil {
		return nil
	}
	action := &BrowserAction{Kind: m[1]}

	if url, ok := FirstBlock(block, "url"); ok {
		action.URL = url
	}
	if c := coordinateRe.FindStringSubmatch(block); c != nil {
		// \d+ guarantees these parse.
		x, _ := strconv.Atoi(c[1])
		y, _ := strconv.Atoi(c[2])
		action.Coordinate = &Point{X: x, Y: y}
	}
	if text, ok := FirstBlock(block, "text"); ok {
		action.Text = text
	}
	return action
}

// ParseMCPToolRequest parses one <use_mcp_tool> block. A missing required
// sub-tag or malformed arguments JSON yields a *ParseError naming the
// offending element.
func ParseMCPToolRequest(block string) (*MCPToolRequest, error) {
	serverName, ok := FirstBlock(block, "server_name")
	if !ok {
		return nil, &ParseError{Element: "server_name"}
	}
	toolName, ok := FirstBlock(block, "tool_name")
	if !ok {
		return nil, &ParseError{Element: "tool_name"}
	}
	rawArgs, ok := FirstBlock(block, "arguments")
	if !ok {
		return nil, &ParseError{Element: "arguments"}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(rawArgs)), &args); err != nil {
		return nil, &ParseError{Element: "arguments", Reason: err.Error()}
	}
	return &MCPToolRequest{
		ServerName: serverName,
		ToolName:   toolName,
		Arguments:  args,
	}, nil
}

// ParseCronJob parses one <cronjob> block. A missing <interval> means the
// block is ignored (nil); so does a missing <query> payload. The query is
// captured with its surrounding tags intact.
func ParseCronJob(block string) *CronJobRequest {
	m := intervalRe.FindStringSubmatch(block)
	if m == nil {
		return nil
	}
	interval, _ := strconv.Atoi(m[1])

	qStart := strings.Index(block, "<query>")
	qEnd := strings.Index(block, "</query>")
	if qStart < 0 || qEnd < 0 {
		return nil
	}
	query := block[qStart : qEnd+len("</query>")]

	req := &CronJobRequest{IntervalSeconds: interval, Query: query}
	if s := startTimeRe.FindStringSubmatch(block); s != nil {
		req.StartTime = strings.TrimSpace(s[1])
	}
	return req
}
