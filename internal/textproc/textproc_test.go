package textproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanResponseText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		prefill string
		want    string
	}{
		{"empty", "", "Hi ", ""},
		{"collapse", "  hello \n\n\t world  ", "", "hello world"},
		{"script", "before <SCRIPT type=x>alert(1)\n</script>after", "", "before after"},
		{"iframe", "a<iframe src=x>\n</IFRAME>b", "", "ab"},
		{"prefill", "story", "Once: ", "Once: story"},
		{"blank prefill ignored", "story", "   ", "story"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanResponseText(tt.text, tt.prefill))
		})
	}
}

func TestEnsureMarkdownFormatting(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"newlines", "a\n\n\n\n\nb", "a\n\nb"},
		{"underscore bold", "__bold__ and **kept**", "**bold** and **kept**"},
		{"empty fence", "```  \n   ```", "```\n\n```"},
		{"trim", "\n\n  text  \n", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EnsureMarkdownFormatting(tt.in))
		})
	}
}

func TestEnsureMarkdownFormatting_Idempotent(t *testing.T) {
	inputs := []string{
		"para one\n\n\n\npara two\n\n\n",
		"```\n\n\n```\n\n\n\ntail",
		"__a__ *b* **c**\n\n\n\n```   \n ```",
		"plain",
	}
	for _, in := range inputs {
		once := EnsureMarkdownFormatting(in)
		assert.Equal(t, once, EnsureMarkdownFormatting(once), "input %q", in)
	}
}

func TestForbiddenWords(t *testing.T) {
	words := []string{"damn"}
	text := "well damn, that's great"

	found, list := CheckForbiddenWords(text, words)
	assert.True(t, found)
	assert.Equal(t, []string{"damn"}, list)
	assert.Equal(t, "well darn, that's great", ReplaceForbiddenWords(text, words))
}

func TestReplaceForbiddenWords_CaseInsensitiveAndFallback(t *testing.T) {
	words := []string{"butterflies in stomach", "Knot", "pang"}
	got := ReplaceForbiddenWords("Butterflies in stomach, a KNOT, a sharp pang.", words)
	assert.Equal(t, "nervous excitement, a tightness, a sharp [REDACTED].", got)
}

func TestForbiddenReplacer(t *testing.T) {
	words := []string{"butterflies in stomach", "butterflies", "", "Damn", "pang"}
	r := NewForbiddenReplacer(words)
	assert.Len(t, r.terms, 4)

	for _, text := range []string{
		"Butterflies in stomach and butterflies.",
		"DAMN, a pang",
		"nothing to see",
		"",
	} {
		assert.Equal(t, ReplaceForbiddenWords(text, words), r.Replace(text), text)
	}
	assert.Equal(t, "darn, a [REDACTED]", r.Replace("DAMN, a pang"))

	var none *ForbiddenReplacer
	assert.Equal(t, "damn", none.Replace("damn"))
}

func TestCheckForbiddenWords_None(t *testing.T) {
	found, list := CheckForbiddenWords("clean text", []string{"damn", ""})
	assert.False(t, found)
	assert.Empty(t, list)

	found, _ = CheckForbiddenWords("", []string{"damn"})
	assert.False(t, found)
}

func TestParseWordList(t *testing.T) {
	assert.Equal(t, []string{"a", "b c"}, ParseWordList(" a, ,b c ,"))
	assert.Nil(t, ParseWordList(""))
}

func TestSpiceScore(t *testing.T) {
	assert.Equal(t, 0.0, SpiceScore(""))
	assert.Equal(t, 0.0, SpiceScore("the weather report"))
	assert.InDelta(t, 2.0/12.0, SpiceScore("a warm embrace"), 0.0001)
	assert.LessOrEqual(t, SpiceScore("intimate passion desire tension heat sensual touch embrace kiss close warm electric mature"), 1.0)
}

func TestRandRoller(t *testing.T) {
	r := NewRandRoller(42)
	assert.False(t, r.Roll(0))
	assert.True(t, r.Roll(100))

	hits := 0
	for i := 0; i < 1000; i++ {
		if r.Roll(50) {
			hits++
		}
	}
	assert.InDelta(t, 500, hits, 100)
}

func TestSquashWhitespace(t *testing.T) {
	assert.Equal(t, " lo world ", SquashWhitespace("\n lo \t\tworld  "))
	assert.Equal(t, "", SquashWhitespace(""))
}
