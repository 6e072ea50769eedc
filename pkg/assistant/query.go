// Package assistant holds the request model of the portfolio assistant: query
// decoding and validation, the failure taxonomy, and prompt assembly.
package assistant

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const DefaultSimulateRateLimitPhrase = "test failure"

// Turn is one prior exchange supplied by the caller. Turns are never stored.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Query struct {
	ProjectID string `json:"project_id"`
	Question  string `json:"question"`
	Context   string `json:"context"`
	History   []Turn `json:"history,omitempty"`
}

// Limits caps the request body in bytes and each field in runes.
type Limits struct {
	MaxBodyBytes      int64
	MaxQuestionRunes  int
	MaxContextRunes   int
	MaxProjectIDRunes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxBodyBytes:      200000,
		MaxQuestionRunes:  500,
		MaxContextRunes:   8000,
		MaxProjectIDRunes: 100,
	}
}

// CheckContentLength rejects a declared body length over the cap. A negative
// n means the length is unknown and passes.
func (l Limits) CheckContentLength(n int64) error {
	if l.MaxBodyBytes > 0 && n > l.MaxBodyBytes {
		return l.bodyTooLarge()
	}
	return nil
}

func (l Limits) bodyTooLarge() *Error {
	return Errorf(KindPayloadTooLarge, "Payload too large: request body exceeds %d bytes", l.MaxBodyBytes)
}

// DecodeQuery reads and validates a query body. When r was wrapped with
// http.MaxBytesReader, exceeding that limit is reported as too large.
func DecodeQuery(r io.Reader, lim Limits) (Query, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return Query{}, lim.bodyTooLarge()
		}
		return Query{}, fmt.Errorf("read request body: %w", err)
	}
	if lim.MaxBodyBytes > 0 && int64(len(body)) > lim.MaxBodyBytes {
		return Query{}, lim.bodyTooLarge()
	}
	return ParseQuery(body, lim)
}

// ParseQuery validates presence, then types, then history shape, then field
// lengths, and returns the first failure.
func ParseQuery(body []byte, lim Limits) (Query, error) {
	if !gjson.ValidBytes(body) {
		return Query{}, Errorf(KindInvalidInput, "Invalid input: request body must be valid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		root = gjson.Result{}
	}
	projectID, question, context := root.Get("project_id"), root.Get("question"), root.Get("context")

	if !truthy(projectID) || !truthy(question) || !truthy(context) {
		return Query{}, Errorf(KindInvalidInput, "Invalid input: project_id, question, and context are required")
	}
	if projectID.Type != gjson.String || question.Type != gjson.String || context.Type != gjson.String {
		return Query{}, Errorf(KindInvalidInput, "Invalid input: project_id, question, and context must be strings")
	}
	q := Query{ProjectID: projectID.Str, Question: question.Str, Context: context.Str}

	history, err := parseHistory(root.Get("history"))
	if err != nil {
		return Query{}, err
	}
	q.History = history

	if err := lim.checkField("question", q.Question, lim.MaxQuestionRunes); err != nil {
		return Query{}, err
	}
	if err := lim.checkField("context", q.Context, lim.MaxContextRunes); err != nil {
		return Query{}, err
	}
	if err := lim.checkField("project_id", q.ProjectID, lim.MaxProjectIDRunes); err != nil {
		return Query{}, err
	}
	return q, nil
}

func parseHistory(h gjson.Result) ([]Turn, error) {
	if !h.Exists() || h.Type == gjson.Null {
		return nil, nil
	}
	if !h.IsArray() {
		return nil, Errorf(KindInvalidInput, "Invalid input: history must be an array")
	}
	items := h.Array()
	turns := make([]Turn, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			return nil, Errorf(KindInvalidInput, "Invalid input: history[%d] must be an object with role and content", i)
		}
		role, content := item.Get("role"), item.Get("content")
		if role.Type != gjson.String || content.Type != gjson.String {
			return nil, Errorf(KindInvalidInput, "Invalid input: history[%d] role and content must be strings", i)
		}
		if role.Str != RoleUser && role.Str != RoleAssistant {
			return nil, Errorf(KindInvalidInput, "Invalid input: history[%d] role must be %q or %q", i, RoleUser, RoleAssistant)
		}
		turns = append(turns, Turn{Role: role.Str, Content: content.Str})
	}
	return turns, nil
}

func (l Limits) checkField(name, value string, max int) error {
	if max > 0 && utf8.RuneCountInString(value) > max {
		return Errorf(KindPayloadTooLarge, "Payload too large: %s exceeds %d characters", name, max)
	}
	return nil
}

// truthy mirrors loose JSON truthiness: missing, null, false, 0 and "" are falsy.
func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.String:
		return v.Str != ""
	case gjson.Number:
		return v.Num != 0
	case gjson.True, gjson.JSON:
		return true
	default:
		return false
	}
}

// SimulatesRateLimit reports whether question contains phrase, ignoring case.
// An empty phrase never matches.
func SimulatesRateLimit(question, phrase string) bool {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return false
	}
	return strings.Contains(strings.ToLower(question), strings.ToLower(phrase))
}
