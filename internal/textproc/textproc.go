// Package textproc implements the pure text transforms applied to provider
// output: whitespace cleanup, markup stripping, forbidden-term substitution
// and markdown repair.
//
// The script/iframe stripping is a best-effort text filter. It is not an
// HTML sanitizer and must not be treated as a security boundary.
package textproc

import (
	"regexp"
	"strings"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<script.*?</script>`)
	iframeRe = regexp.MustCompile(`(?is)<iframe.*?</iframe>`)

	boldRe       = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicRe     = regexp.MustCompile(`\*(.*?)\*`)
	underBoldRe  = regexp.MustCompile(`__(.*?)__`)
	newlineRunRe = regexp.MustCompile(`\n{3,}`)
	emptyFenceRe = regexp.MustCompile("```\\s*\\n\\s*```")
	spaceRunRe   = regexp.MustCompile(`\s+`)
)

// CollapseWhitespace replaces every whitespace run with a single space and
// trims both ends.
func CollapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// SquashWhitespace replaces every whitespace run with a single space
// without trimming, so a fragment keeps its edge spacing.
func SquashWhitespace(text string) string {
	return spaceRunRe.ReplaceAllString(text, " ")
}

// StripUnsafeMarkup removes <script> and <iframe> blocks.
func StripUnsafeMarkup(text string) string {
	text = scriptRe.ReplaceAllString(text, "")
	return iframeRe.ReplaceAllString(text, "")
}

// CleanResponseText collapses whitespace, strips script/iframe blocks and
// prepends prefill when it is not blank.
func CleanResponseText(text, prefill string) string {
	if text == "" {
		return ""
	}
	text = StripUnsafeMarkup(CollapseWhitespace(text))
	if strings.TrimSpace(prefill) != "" {
		text = prefill + text
	}
	return text
}

// EnsureMarkdownFormatting normalizes emphasis markers, collapses runs of
// three or more newlines, normalizes empty code fences and trims the result.
// It is idempotent.
func EnsureMarkdownFormatting(text string) string {
	if text == "" {
		return ""
	}
	text = boldRe.ReplaceAllString(text, "**${1}**")
	text = italicRe.ReplaceAllString(text, "*${1}*")
	text = underBoldRe.ReplaceAllString(text, "**${1}**")
	text = newlineRunRe.ReplaceAllString(text, "\n\n")
	text = emptyFenceRe.ReplaceAllString(text, "```\n\n```")
	return strings.TrimSpace(text)
}
