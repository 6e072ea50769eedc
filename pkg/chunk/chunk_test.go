package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{name: "content string", raw: `{"content":"x"}`, want: "x", wantOK: true},
		{name: "nested data", raw: `{"data":{"content":"y"}}`, want: "y", wantOK: true},
		{name: "event pair", raw: `["event",{"content":"z"}]`, want: "z", wantOK: true},
		{name: "content parts", raw: `{"content":["a","b"]}`, want: "ab", wantOK: true},
		{name: "empty object", raw: `{}`, wantOK: false},
		{name: "content wins over data", raw: `{"content":"first","data":{"content":"second"}}`, want: "first", wantOK: true},
		{name: "pair inside data", raw: `{"data":["message",{"content":"deep"}]}`, want: "deep", wantOK: true},
		{name: "short array", raw: `[{"content":"only"}]`, wantOK: false},
		{name: "mixed content parts", raw: `{"content":["a",1]}`, wantOK: false},
		{name: "numeric content", raw: `{"content":42}`, wantOK: false},
		{name: "openai delta", raw: `{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hi"}}]}`, want: "Hi", wantOK: true},
		{name: "openai role only delta", raw: `{"choices":[{"index":0,"delta":{"role":"assistant"}}]}`, wantOK: false},
		{name: "scalar data", raw: `{"data":"text"}`, wantOK: false},
		{name: "invalid json", raw: `{"content":`, wantOK: false},
		{name: "bare string", raw: `"hello"`, wantOK: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Extract([]byte(tc.raw))
			require.Equal(t, tc.wantOK, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestExtractStringMatchesExtract(t *testing.T) {
	got, ok := ExtractString(`{"data":{"content":"y"}}`)
	require.True(t, ok)
	require.Equal(t, "y", got)
}

func nestData(levels int) string {
	return strings.Repeat(`{"data":`, levels) + `{"content":"leaf"}` + strings.Repeat("}", levels)
}

func TestExtractDepthBound(t *testing.T) {
	got, ok := Extract([]byte(nestData(MaxDepth)))
	require.True(t, ok)
	require.Equal(t, "leaf", got)

	_, ok = Extract([]byte(nestData(MaxDepth + 1)))
	require.False(t, ok)
}

func TestMatcherOrder(t *testing.T) {
	names := make([]string, 0, len(Matchers))
	for _, m := range Matchers {
		names = append(names, m.Name)
	}
	require.Equal(t, []string{"content", "data", "pair", "content-parts", "openai-delta"}, names)
}
