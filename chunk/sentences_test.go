package chunk

import (
	"reflect"
	"testing"
)

func TestSentenceBoundaries(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []int
	}{
		{
			name: "plain sentences",
			text: "One here. Two there.",
			want: []int{10},
		},
		{
			name: "abbreviation not a boundary",
			text: "See Dr. smith today. Next one.",
			want: []int{21},
		},
		{
			name: "decimal not a boundary",
			text: "Pi is 3.14 roughly. Next one.",
			want: []int{20},
		},
		{
			name: "lowercase continuation not a boundary",
			text: "It ended. but continued anyway",
			want: nil,
		},
		{
			name: "no punctuation",
			text: "just a run of words with no stops",
			want: nil,
		},
	}
	for _, tc := range cases {
		if got := sentenceBoundaries(tc.text); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s: boundaries = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSentenceBoundaries_CJK(t *testing.T) {
	text := "これは文です。次の文です。"
	got := sentenceBoundaries(text)
	if len(got) != 2 {
		t.Fatalf("boundaries = %v, want 2 entries", got)
	}
}

func TestEndsAtSentence(t *testing.T) {
	yes := []string{"Done.", "Really?", "Stop!", "He said \"go.\"", "quote.'", "A colon:"}
	no := []string{"unfinished", "trailing,", "", "half (paren"}
	for _, s := range yes {
		if !endsAtSentence(s) {
			t.Errorf("endsAtSentence(%q) = false, want true", s)
		}
	}
	for _, s := range no {
		if endsAtSentence(s) {
			t.Errorf("endsAtSentence(%q) = true, want false", s)
		}
	}
}

func TestStartsAtSentence(t *testing.T) {
	yes := []string{"The start", "42 things", "# Heading", "- item", "\"Quote", "これは"}
	no := []string{"lowercase start", "", ", comma"}
	for _, s := range yes {
		if !startsAtSentence(s) {
			t.Errorf("startsAtSentence(%q) = false, want true", s)
		}
	}
	for _, s := range no {
		if startsAtSentence(s) {
			t.Errorf("startsAtSentence(%q) = true, want false", s)
		}
	}
}
