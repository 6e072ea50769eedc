// Package chunk recovers incremental text from upstream stream chunks whose
// shape is not fixed. Chunks are probed as raw JSON by an ordered list of
// matchers; the first matcher that recognises the chunk decides the outcome.
package chunk

import (
	"strings"

	"github.com/tidwall/gjson"
)

// MaxDepth bounds how many data/pair levels Extract descends.
const MaxDepth = 8

// A Matcher either produces text, points at a nested node to descend into,
// or reports that it does not recognise v.
type Matcher struct {
	Name  string
	Match func(v gjson.Result) (text string, next gjson.Result, matched bool)
}

// Matchers is the priority order used by Extract.
var Matchers = []Matcher{
	{Name: "content", Match: matchContentString},
	{Name: "data", Match: matchData},
	{Name: "pair", Match: matchPair},
	{Name: "content-parts", Match: matchContentParts},
	{Name: "openai-delta", Match: matchOpenAIDelta},
}

// Extract returns the text carried by raw. ok is false when no matcher
// produces text, including for invalid JSON and nesting beyond MaxDepth.
func Extract(raw []byte) (text string, ok bool) {
	if !gjson.ValidBytes(raw) {
		return "", false
	}
	return ExtractResult(gjson.ParseBytes(raw))
}

// ExtractString is Extract for chunks already held as strings.
func ExtractString(raw string) (string, bool) {
	if !gjson.Valid(raw) {
		return "", false
	}
	return ExtractResult(gjson.Parse(raw))
}

func ExtractResult(v gjson.Result) (string, bool) {
	for depth := 0; depth <= MaxDepth; depth++ {
		next, descend := gjson.Result{}, false
		for _, m := range Matchers {
			text, n, matched := m.Match(v)
			if !matched {
				continue
			}
			if n.Exists() {
				next, descend = n, true
				break
			}
			return text, true
		}
		if !descend {
			return "", false
		}
		v = next
	}
	return "", false
}

func matchContentString(v gjson.Result) (string, gjson.Result, bool) {
	if !v.IsObject() {
		return "", gjson.Result{}, false
	}
	c := v.Get("content")
	if c.Type != gjson.String {
		return "", gjson.Result{}, false
	}
	return c.String(), gjson.Result{}, true
}

func matchData(v gjson.Result) (string, gjson.Result, bool) {
	if !v.IsObject() {
		return "", gjson.Result{}, false
	}
	d := v.Get("data")
	if !d.IsObject() && !d.IsArray() {
		return "", gjson.Result{}, false
	}
	return "", d, true
}

// matchPair handles [event, payload] tuples by descending into the payload.
func matchPair(v gjson.Result) (string, gjson.Result, bool) {
	if !v.IsArray() {
		return "", gjson.Result{}, false
	}
	items := v.Array()
	if len(items) < 2 {
		return "", gjson.Result{}, false
	}
	return "", items[1], true
}

func matchContentParts(v gjson.Result) (string, gjson.Result, bool) {
	if !v.IsObject() {
		return "", gjson.Result{}, false
	}
	c := v.Get("content")
	if !c.IsArray() {
		return "", gjson.Result{}, false
	}
	var b strings.Builder
	for _, part := range c.Array() {
		if part.Type != gjson.String {
			return "", gjson.Result{}, false
		}
		b.WriteString(part.String())
	}
	return b.String(), gjson.Result{}, true
}

func matchOpenAIDelta(v gjson.Result) (string, gjson.Result, bool) {
	if !v.IsObject() {
		return "", gjson.Result{}, false
	}
	c := v.Get("choices.0.delta.content")
	if c.Type != gjson.String {
		return "", gjson.Result{}, false
	}
	return c.String(), gjson.Result{}, true
}
