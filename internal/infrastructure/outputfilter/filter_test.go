package outputfilter

import "testing"

func TestSanitize_StripsCSIAndOSC(t *testing.T) {
	raw := "\x1b[31mred\x1b[0m text\x1b]0;window title\x07done"
	got := Sanitize(raw)
	if got != "red text" && got != "red textdone" {
		t.Fatalf("expected control sequences stripped, got %q", got)
	}
}

func TestSanitize_KeepsLFAndHT(t *testing.T) {
	raw := "line one\nline\ttwo"
	if got := Sanitize(raw); got != raw {
		t.Fatalf("expected LF/HT preserved untouched, got %q", got)
	}
}

func TestSanitize_StripsC0Controls(t *testing.T) {
	raw := "hello\x00\x01\x07world"
	if got := Sanitize(raw); got != "helloworld" {
		t.Fatalf("expected C0 controls stripped, got %q", got)
	}
}

func TestSanitize_ReplacesInvalidUTF8(t *testing.T) {
	raw := "valid" + string([]byte{0xff, 0xfe}) + "text"
	got := Sanitize(raw)
	if got == raw {
		t.Fatalf("expected invalid UTF-8 to be replaced")
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	raw := "\x1b[2Jmixed\x00output\x1b]0;t\x07line"
	once := Sanitize(raw)
	twice := Sanitize(once)
	if once != twice {
		t.Fatalf("expected sanitize to be idempotent, got %q then %q", once, twice)
	}
}

func TestClassify_DetectsCompletion(t *testing.T) {
	result := Classify("All done! The task has been completed successfully and all tests pass as expected here today")
	if !result.HasCompletion {
		t.Fatalf("expected completion to be detected")
	}
}

func TestClassify_DetectsQuestion(t *testing.T) {
	result := Classify("I have finished the initial pass, should I continue with the remaining files now?")
	if !result.HasQuestion {
		t.Fatalf("expected question to be detected")
	}
}

func TestClassify_DiscardsCommandOutput(t *testing.T) {
	result := Classify("$ npm install\nadded 120 packages in 4s\nup to date, audited 200 packages")
	if result.FilteredText != "" {
		t.Fatalf("expected command output discarded, got %q", result.FilteredText)
	}
}

func TestClassify_KeepsModelSpeech(t *testing.T) {
	result := Classify("Let me look at the failing test file to understand why it broke recently")
	if result.FilteredText == "" {
		t.Fatalf("expected model speech to be kept")
	}
}

func TestClassify_RawAndFilteredLengths(t *testing.T) {
	raw := "$ npm test\nLet me check the output of the test run carefully now"
	result := Classify(raw)
	if result.RawLength != len(raw) {
		t.Fatalf("expected raw length %d, got %d", len(raw), result.RawLength)
	}
	if result.FilteredLength != len(result.FilteredText) {
		t.Fatalf("expected filtered length to match filtered text")
	}
}
