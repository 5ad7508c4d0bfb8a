package outputfilter

import "regexp"

// These pattern families are frozen in spec §4.B ("variants are out
// of scope"); ported line-for-line from
// original_source/bender/log_filter.py's MODEL_PATTERNS,
// COMMAND_PATTERNS, COMPLETION_PATTERNS, ERROR_PATTERNS, and
// QUESTION_PATTERNS, all case-insensitive as the Python original
// compiled them.

var modelPatterns = compileAll([]string{
	`^\[Claude\].*`,
	`^\[Model\].*`,
	`^Thinking:.*`,
	`^> .*`,
	`^I('m| am| will| can|'ll).*`,
	`^Let me.*`,
	`^Now I.*`,
	`^First,.*`,
	`^Next,.*`,
	`^Finally,.*`,
	`^Looking at.*`,
	`^Analyzing.*`,
	`^The (error|issue|problem|solution).*`,
	`^This (is|looks|seems|appears).*`,
	`^I (see|found|notice|think|believe).*`,
	`^Based on.*`,
	`^According to.*`,
	`^●.*`,
	`^✓.*`,
	`^✗.*`,
	`^→.*`,
	`^\[codex\].*`,
	`^Plan:.*`,
	`^Step \d+:.*`,
	`^\[droid\].*`,
	`^Assistant:.*`,
})

var commandPatterns = compileAll([]string{
	`^\$\s+.*`,
	`^>\s+.*`,
	`^\+\s+.*`,
	`^npm\s+(WARN|ERR|info).*`,
	`^added \d+ packages.*`,
	`^up to date.*`,
	`^\d+ packages are looking.*`,
	"^Run `npm.*",
	`^diff --git.*`,
	`^index [a-f0-9]+\.\.[a-f0-9]+.*`,
	`^@@.*@@.*`,
	`^[-+]{3}\s+[ab]/.*`,
	`^[+-]\s+.*`,
	`^\s*\d+\s+passing.*`,
	`^\s*\d+\s+failing.*`,
	`^PASS\s+.*`,
	`^FAIL\s+.*`,
	`^✔.*test.*`,
	`^✖.*test.*`,
	`^Compiling.*`,
	`^Building.*`,
	`^Bundling.*`,
	`^warning:.*`,
	`^error\[E\d+\]:.*`,
	`^  --> .*:\d+:\d+.*`,
	`^\s+\|.*`,
	`^node_modules/.*`,
	`^\s+at\s+.*\(.*:\d+:\d+\).*`,
	`^.*\.js:\d+$`,
	`^.*\.ts:\d+$`,
	`^.*\.py:\d+$`,
})

var completionPatterns = compileAll([]string{
	`task.*complet`,
	`done!`,
	`finished`,
	`successfully`,
	`all tests pass`,
	`build succeeded`,
	`готово`,
	`выполнено`,
	`завершено`,
})

var errorPatterns = compileAll([]string{
	`error:`,
	`failed`,
	`exception`,
	`cannot`,
	`unable to`,
	`not found`,
	`ошибка`,
	`не удалось`,
})

var questionPatterns = compileAll([]string{
	`\?$`,
	`should I`,
	`do you want`,
	`would you like`,
	`can you`,
	`please (confirm|specify|clarify)`,
	`хотите`,
	`нужно ли`,
	`подтвердите`,
})

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}
