package autofix

import (
	"reflect"
	"testing"
)

var testScenarios = []Scenario{
	{Key: "review_confirm", Trigger: "[fix_confirmation]", Title: "Fix confirmation review"},
}

func TestParseChecklistItems(t *testing.T) {
	tests := []struct {
		name string
		text string
		skip string
		want []ChecklistItem
	}{
		{
			name: "mixed checked and unchecked",
			text: "- [ ] P0 a\n- [x] P1 b",
			want: []ChecklistItem{
				{Text: "P0 a", Checked: false},
				{Text: "P1 b", Checked: true},
			},
		},
		{
			name: "uppercase X",
			text: "- [X] resolved",
			want: []ChecklistItem{{Text: "resolved", Checked: true}},
		},
		{
			name: "indented items",
			text: "  - [ ] nested finding",
			want: []ChecklistItem{{Text: "nested finding", Checked: false}},
		},
		{
			name: "code fences excluded",
			text: "- [ ] real\n```\n- [ ] sample in code\n```\n- [ ] also real",
			want: []ChecklistItem{
				{Text: "real", Checked: false},
				{Text: "also real", Checked: false},
			},
		},
		{
			name: "fence with language tag",
			text: "```markdown\n- [ ] rendered example\n```\n- [ ] outside",
			want: []ChecklistItem{{Text: "outside", Checked: false}},
		},
		{
			name: "trigger line skipped",
			text: "[fix_confirmation]\n- [ ] P0 x",
			skip: "[fix_confirmation]",
			want: []ChecklistItem{{Text: "P0 x", Checked: false}},
		},
		{
			name: "informational lines ignored",
			text: "Summary of findings:\n\n- [ ] P0 bug\nSee above.",
			want: []ChecklistItem{{Text: "P0 bug", Checked: false}},
		},
		{
			name: "no items",
			text: "looks good to me",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseChecklistItems(tt.text, tt.skip)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ParseChecklistItems() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFilterPriorityItems(t *testing.T) {
	items := []ChecklistItem{
		{Text: "P0 crash on resize"},
		{Text: "**P1** flaky test"},
		{Text: "[p1] lowercase marker"},
		{Text: "P2 cosmetic"},
		{Text: "stop P2P regression"},
		{Text: "no priority at all"},
	}

	got := FilterPriorityItems(items)

	want := []string{"P0 crash on resize", "**P1** flaky test", "[p1] lowercase marker"}
	if len(got) != len(want) {
		t.Fatalf("kept %d items %+v, want %d", len(got), got, len(want))
	}
	for i, text := range want {
		if got[i].Text != text {
			t.Fatalf("item %d = %q, want %q", i, got[i].Text, text)
		}
	}
}

func TestDetectScenario(t *testing.T) {
	scenarios := []Scenario{
		{Key: "default", Trigger: "[anything]"},
		{Key: "review_confirm", Trigger: "[fix_confirmation]"},
		{Key: "broad", Trigger: "[fix"},
	}

	tests := []struct {
		name    string
		text    string
		wantKey string
		wantOK  bool
	}{
		{
			name:    "exact prefix",
			text:    "[fix_confirmation]\n- [ ] item",
			wantKey: "review_confirm",
			wantOK:  true,
		},
		{
			name:    "case insensitive with leading space",
			text:    "  [FIX_CONFIRMATION] rest",
			wantKey: "review_confirm",
			wantOK:  true,
		},
		{
			name:    "table order decides overlap",
			text:    "[fixup] text",
			wantKey: "broad",
			wantOK:  true,
		},
		{
			name:   "default entry never matches",
			text:   "[anything] else",
			wantOK: false,
		},
		{
			name:   "trigger not at start",
			text:   "preamble [fix_confirmation]",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, ok := DetectScenario(tt.text, scenarios)
			if ok != tt.wantOK || sc.Key != tt.wantKey {
				t.Fatalf("DetectScenario() = (%q, %v), want (%q, %v)", sc.Key, ok, tt.wantKey, tt.wantOK)
			}
		})
	}
}

func TestDecideNext(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		cycle int
		max   int
		want  Decision
	}{
		{
			name:  "no scenario match",
			text:  "no trigger\n- [ ] P0 x",
			cycle: 1,
			max:   10,
			want:  StopDecision{Reason: ReasonNoScenarioMatch},
		},
		{
			name:  "zero checkboxes",
			text:  "[fix_confirmation]\nall good",
			cycle: 1,
			max:   10,
			want:  StopDecision{Reason: ReasonZeroCheckboxes},
		},
		{
			name:  "all priority items checked",
			text:  "[fix_confirmation]\n- [x] P0 done\n- [ ] P2 minor",
			cycle: 1,
			max:   10,
			want:  CompleteDecision{},
		},
		{
			name:  "every item checked",
			text:  "[fix_confirmation]\n- [x] P0 done\n- [X] P1 also done",
			cycle: 3,
			max:   10,
			want:  CompleteDecision{},
		},
		{
			name:  "max cycles exhausted",
			text:  "[fix_confirmation]\n- [ ] P0 bug",
			cycle: 10,
			max:   10,
			want:  StopDecision{Reason: ReasonMaxCycles, Remaining: 1},
		},
		{
			name:  "continue with priority items",
			text:  "[fix_confirmation]\n- [ ] P1 issue",
			cycle: 2,
			max:   10,
			want: ContinueDecision{
				Items:       []string{"P1 issue"},
				NextCycle:   3,
				ScenarioKey: "review_confirm",
			},
		},
		{
			name:  "continue selects only priority items",
			text:  "[fix_confirmation]\n- [ ] P0 crash\n- [ ] P2 nit\n- [ ] P1 leak",
			cycle: 1,
			max:   10,
			want: ContinueDecision{
				Items:       []string{"P0 crash", "P1 leak"},
				NextCycle:   2,
				ScenarioKey: "review_confirm",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecideNext(tt.text, tt.cycle, tt.max, testScenarios)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("DecideNext() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
