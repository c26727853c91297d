package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"localchat/internal/chat"
)

func turns(pairs ...string) []chat.Turn {
	var out []chat.Turn
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, chat.Turn{Role: pairs[i], Text: pairs[i+1]})
	}
	return out
}

// ========== Chat context ==========

func TestBuildChatContext_Limit(t *testing.T) {
	h := turns("user", "a", "assistant", "b", "user", "c")
	assert.Equal(t, "ASSISTANT: b\nUSER: c", BuildChatContext(h, 2))
	assert.Equal(t, "USER: a\nASSISTANT: b\nUSER: c", BuildChatContext(h, 10))
	assert.Equal(t, "", BuildChatContext(nil, 10))
}

func TestBuildChatContext_DefaultLimit(t *testing.T) {
	var h []chat.Turn
	for i := 0; i < 15; i++ {
		h = append(h, chat.Turn{Role: "user", Text: string(rune('a' + i))})
	}
	got := BuildChatContext(h, 0)
	assert.Equal(t, "USER: f", got[:len("USER: f")], "only the last 10 turns are kept")
}

// ========== Build ==========

func TestBuild_OnlyChat(t *testing.T) {
	got := BuildPrompt("", "", "", "USER: hi")
	assert.Equal(t, FormatHint+"\n\nUSER: hi\nASSISTANT:", got)
}

func TestBuild_AllSectionsInOrder(t *testing.T) {
	got := BuildPrompt("FILE a:\nx", "SEARCH RESULT 1: s", "WEB", "USER: q")
	want := "FILE a:\nx\n\nSEARCH RESULT 1: s\n\nWEB\n\n" + FormatHint + "\n\nUSER: q\nASSISTANT:"
	assert.Equal(t, want, got)
}

func TestBuilder_ReasoningVariant(t *testing.T) {
	b := NewBuilder(true)
	assert.Contains(t, b.Build("", "", "", ""), "<think></think>")
	assert.Equal(t, FormatHint+"\nASSISTANT:", NewBuilder(false).Build("", "", "", ""))
}

// ========== Location ==========

func TestLocationContext(t *testing.T) {
	assert.Equal(t, "", LocationContext(nil))

	acc := 12.5
	loc := &chat.Location{Lat: 51.5, Lon: -0.12, Accuracy: &acc, Timestamp: "1700000000"}
	assert.Equal(t, "USER LOCATION: lat=51.5, lon=-0.12, accuracy_m=12.5, timestamp=1700000000", LocationContext(loc))

	assert.Equal(t, "USER LOCATION: lat=1, lon=2", LocationContext(&chat.Location{Lat: 1, Lon: 2}))
}

func TestWithLocation(t *testing.T) {
	assert.Equal(t, "F", WithLocation("", "F"))
	assert.Equal(t, "L", WithLocation("L", ""))
	assert.Equal(t, "L\n\nF", WithLocation("L", "F"))
}

// ========== SplitThinking ==========

func TestSplitThinking(t *testing.T) {
	tests := []struct {
		in               string
		thinking, answer string
		ok               bool
	}{
		{"<think>reason</think>answer", "reason", "answer", true},
		{"plain", "", "plain", false},
		{"  spaced  ", "", "spaced", false},
		{"pre <think> r </think> post", "r", "pre  post", true},
		{"</think>x<think>y", "", "</think>x<think>y", false},
		{"</think>a<think>b</think>c", "b", "</think>ac", true},
		{"<think>one</think>mid<think>two</think>", "one", "mid<think>two</think>", true},
		{"<think>unclosed", "", "<think>unclosed", false},
	}
	for _, tt := range tests {
		thinking, answer, ok := SplitThinking(tt.in)
		assert.Equal(t, tt.thinking, thinking, "thinking for %q", tt.in)
		assert.Equal(t, tt.answer, answer, "answer for %q", tt.in)
		assert.Equal(t, tt.ok, ok, "ok for %q", tt.in)
	}
}
