package iflow

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Patterns are tried in order; the first match wins.
var sessionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)"session-id":\s*"(session-[a-f0-9-]+)"`),
	regexp.MustCompile(`(?i)session-id:\s*(session-[a-f0-9-]+)`),
	regexp.MustCompile(`(?i)Session ID:\s*(session-[a-f0-9-]+)`),
	regexp.MustCompile(`(?i)(session-[a-f0-9-]+)`),
}

// ExtractSessionID finds the session identifier iflow prints in its output.
// It is a pure function of text.
func ExtractSessionID(text string) (string, bool) {
	for _, re := range sessionPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// ExecutionInfo is the trailer iflow appends to a non-interactive answer.
type ExecutionInfo struct {
	SessionID       string     `json:"session-id"`
	ConversationID  string     `json:"conversation-id"`
	AssistantRounds int        `json:"assistantRounds"`
	ExecutionTimeMs int64      `json:"executionTimeMs"`
	TokenUsage      TokenUsage `json:"tokenUsage"`
	Raw             string     `json:"-"`
}

type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

const executionInfoTag = "<Execution Info>"

var executionInfoBlock = regexp.MustCompile(`(?s)<Execution Info>(.*?)(?:</Execution Info>|$)`)

// SplitExecutionInfo separates the answer from a trailing execution-info
// block. info is nil when no block is present.
func SplitExecutionInfo(text string) (string, *ExecutionInfo) {
	loc := executionInfoBlock.FindStringSubmatchIndex(text)
	if loc == nil {
		return strings.TrimSpace(text), nil
	}
	answer := strings.TrimSpace(text[:loc[0]])
	raw := strings.TrimSpace(text[loc[2]:loc[3]])
	return answer, parseExecutionInfo(raw)
}

func parseExecutionInfo(raw string) *ExecutionInfo {
	info := &ExecutionInfo{Raw: raw}
	body := raw
	if start := strings.Index(body, "{"); start >= 0 {
		body = body[start:]
		if end := strings.LastIndex(body, "}"); end >= 0 {
			body = body[:end+1]
		}
		if repaired, err := jsonrepair.JSONRepair(body); err == nil {
			_ = json.Unmarshal([]byte(repaired), info)
		}
	}
	if info.SessionID == "" {
		info.SessionID, _ = ExtractSessionID(raw)
	}
	return info
}
