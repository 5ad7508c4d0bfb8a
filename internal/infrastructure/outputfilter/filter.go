// Package outputfilter implements spec §4.B's Output Filter: a pure
// function over terminal bytes with two independent concerns,
// sanitation (strip terminal control sequences) and classification
// (keep model prose, discard command output, flag
// completion/error/question signals). Grounded on the teacher's
// original_source/bender/log_filter.py for the pattern families and
// re-derived for Go's regexp/utf8 packages for sanitation, which the
// Python original left to the terminal emulator.
package outputfilter

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/benderhq/engine/internal/domain/entity"
)

// Result is an alias for entity.FilterResult, spec §4.B's
// {filtered_text, has_completion, has_error, has_question, raw_length,
// filtered_length} tuple. Kept as an infrastructure-local name for
// readability at call sites in this package.
type Result = entity.FilterResult

// tailLines bounds how much of the output classification looks at:
// spec §4.B's "tail (last ~50 non-empty lines)".
const tailLines = 50

var (
	csiPattern     = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	oscPattern     = regexp.MustCompile(`\x1b\][^\x07\x1b]*(\x07|\x1b\\)`)
	charsetPattern = regexp.MustCompile(`\x1b[()#][0-9A-Za-z]`)
	escPattern     = regexp.MustCompile(`\x1b[=>c78MDHN]`)
)

// Sanitize strips CSI, OSC (BEL- or ST-terminated), charset-switch,
// and other single-character ESC sequences, then removes C0 controls
// except LF and HT, then replaces invalid UTF-8 byte sequences with
// the Unicode replacement character. Sanitation is mandatory before
// any pattern check or LLM submission (spec §4.B) and is idempotent
// (Testable Property 9): running it twice produces the same output as
// running it once, since its own output never reintroduces a control
// sequence or invalid byte.
func Sanitize(raw string) string {
	s := csiPattern.ReplaceAllString(raw, "")
	s = oscPattern.ReplaceAllString(s, "")
	s = charsetPattern.ReplaceAllString(s, "")
	s = escPattern.ReplaceAllString(s, "")
	s = stripC0(s)
	return toValidUTF8(s)
}

// stripC0 removes C0 control bytes (0x00-0x1F) other than LF (0x0A)
// and HT (0x09), and DEL (0x7F).
func stripC0(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\n' || c == '\t' {
			b.WriteByte(c)
			continue
		}
		if c < 0x20 || c == 0x7f {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// toValidUTF8 walks the string rune-by-rune, replacing any invalid
// byte sequence with U+FFFD, rather than dropping it silently.
func toValidUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
			i++
			continue
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

// Classify applies the three fixed regex families over the sanitized
// tail and returns the full Result. raw is the pre-sanitation text, so
// RawLength reflects what actually came off the wire.
func Classify(raw string) Result {
	sanitized := Sanitize(raw)
	lines := nonEmptyLines(sanitized)
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}

	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isCommandOutput(trimmed) {
			continue
		}
		if isModelSpeech(trimmed) {
			kept = append(kept, trimmed)
			continue
		}
		if looksLikeProse(trimmed) {
			kept = append(kept, trimmed)
		}
	}

	filtered := strings.Join(kept, "\n")
	return Result{
		FilteredText:   filtered,
		HasCompletion:  matchesAny(filtered, completionPatterns),
		HasError:       matchesAny(filtered, errorPatterns),
		HasQuestion:    matchesAny(filtered, questionPatterns),
		RawLength:      len(raw),
		FilteredLength: len(filtered),
	}
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// looksLikeProse is log_filter.py's _looks_like_text heuristic: deep
// indentation or a high density of code-ish punctuation says "code",
// five or more space-separated words says "text".
func looksLikeProse(line string) bool {
	if strings.HasPrefix(line, "    ") || strings.HasPrefix(line, "\t\t") {
		return false
	}
	special := 0
	for _, c := range line {
		switch c {
		case '{', '}', '[', ']', '(', ')', ';', '=', '<', '>', '|', '&':
			special++
		}
	}
	if float64(special) > float64(len(line))*0.2 {
		return false
	}
	return len(strings.Fields(line)) >= 5
}

func isCommandOutput(line string) bool {
	return matchesAnyCompiled(line, commandPatterns)
}

func isModelSpeech(line string) bool {
	return matchesAnyCompiled(line, modelPatterns)
}

func matchesAnyCompiled(line string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	lower := strings.ToLower(text)
	for _, p := range patterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}
