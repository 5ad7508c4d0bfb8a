package entity

// FilterResult is the Output Filter's output (spec §4.B):
// {filtered_text, has_completion, has_error, has_question, raw_length,
// filtered_length}. Declared in entity so the domain-level LogWatcher
// interface can depend on it without importing the infrastructure-layer
// outputfilter package that produces it.
type FilterResult struct {
	FilteredText   string
	HasCompletion  bool
	HasError       bool
	HasQuestion    bool
	RawLength      int
	FilteredLength int
}
