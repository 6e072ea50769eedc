package assistant

import (
	"fmt"
	"strings"
)

// Mode selects how a query is presented to the upstream model.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSingle:
		return ModeSingle, nil
	case ModeMulti:
		return ModeMulti, nil
	default:
		return "", fmt.Errorf("unknown prompt mode %q (want %q or %q)", s, ModeSingle, ModeMulti)
	}
}

// Prompt is an assembled upstream input. Text is set in single mode and
// Turns in multi mode.
type Prompt struct {
	Mode  Mode
	Text  string
	Turns []Turn
}

func Assemble(q Query, mode Mode) Prompt {
	if mode == ModeMulti {
		return Prompt{Mode: ModeMulti, Turns: Conversation(q)}
	}
	return Prompt{Mode: ModeSingle, Text: SingleTurnPrompt(q)}
}

const analystPreamble = `You are a professional technical analyst reviewing Noor Latif's engineering work. Answer the following question directly and professionally, without preambles or phrases like "Based on the context provided."`

const analystClosing = `Provide a clear, technical answer with specific details. Use markdown formatting for readability. Be direct and skip unnecessary introductions.`

func SingleTurnPrompt(q Query) string {
	var b strings.Builder
	b.WriteString(analystPreamble)
	b.WriteString("\n\n")
	b.WriteString(contextAndQuestion(q))
	b.WriteString("\n\n")
	b.WriteString(analystClosing)
	return b.String()
}

// Conversation replays history and appends the new question. Context is only
// sent in the opening turn; follow-ups rely on it being in the first history turn.
func Conversation(q Query) []Turn {
	if len(q.History) == 0 {
		return []Turn{{Role: RoleUser, Content: contextAndQuestion(q)}}
	}
	turns := make([]Turn, 0, len(q.History)+1)
	turns = append(turns, q.History...)
	return append(turns, Turn{Role: RoleUser, Content: q.Question})
}

func contextAndQuestion(q Query) string {
	return "Project Context:\n" + q.Context + "\n\nQuestion: " + q.Question
}
