package docnlp

import "testing"

func TestHasNumbers(t *testing.T) {
	cases := map[string]bool{
		"Tekniske krav til føringsveje": false,
		"jf. § 4.2":                     true,
		"300mm diameter":                true,
		"":                              false,
	}
	for text, want := range cases {
		if got := HasNumbers(text); got != want {
			t.Errorf("HasNumbers(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestComplexity(t *testing.T) {
	if Complexity("Simple short note.") != "simple" {
		t.Error("expected short plain text to be simple")
	}
	if Complexity("Dette gælder, medmindre andet er angivet i kontrakten.") != "complex" {
		t.Error("expected subordinate-clause marker to classify as complex")
	}
	long := make([]byte, complexityLengthThreshold+1)
	for i := range long {
		long[i] = 'a'
	}
	if Complexity(string(long)) != "complex" {
		t.Error("expected long text to classify as complex")
	}
}
