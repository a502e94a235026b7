// Package autofix drives the self-review loop: a reviewer agent produces a
// checklist of findings, a fixer agent works through the high-priority
// unchecked ones, and the loop repeats until the list is clean or a stop
// condition is hit.
package autofix

import (
	"regexp"
	"strings"
)

// Scenario names one recognized review format. Triggers are matched in table
// order, so earlier entries take precedence.
type Scenario struct {
	Key     string `mapstructure:"key" yaml:"key"`
	Trigger string `mapstructure:"trigger" yaml:"trigger"`
	Title   string `mapstructure:"title" yaml:"title"`
}

// DefaultScenarios is the built-in scenario table.
var DefaultScenarios = []Scenario{
	{Key: "review_confirm", Trigger: "[fix_confirmation]", Title: "Fix confirmation review"},
}

// ChecklistItem is one parsed checkbox line.
type ChecklistItem struct {
	Text    string
	Checked bool
}

var (
	uncheckedRe = regexp.MustCompile(`^\s*-\s\[\s\]\s+(.+)$`)
	checkedRe   = regexp.MustCompile(`^\s*-\s\[[xX]\]\s+(.+)$`)
	priorityRe  = regexp.MustCompile(`\bP[01]\b`)
	leadJunkRe  = regexp.MustCompile(`^[\s*_\[\]]+`)
)

// DetectScenario returns the first non-default scenario whose trigger is a
// case-insensitive prefix of the trimmed text.
func DetectScenario(text string, scenarios []Scenario) (Scenario, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(text))

	for _, sc := range scenarios {
		if sc.Key == "default" || sc.Trigger == "" {
			continue
		}

		if strings.HasPrefix(trimmed, strings.ToLower(sc.Trigger)) {
			return sc, true
		}
	}

	return Scenario{}, false
}

// ParseChecklistItems extracts checkbox lines from reviewer text. Lines
// inside fenced code blocks are ignored, as is any line equal to the
// scenario trigger. Non-checkbox lines are informational and dropped.
func ParseChecklistItems(text, skipTrigger string) []ChecklistItem {
	var (
		items   []ChecklistItem
		inFence bool
	)

	skip := strings.ToLower(strings.TrimSpace(skipTrigger))

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence

			continue
		}

		if inFence {
			continue
		}

		if skip != "" && strings.ToLower(trimmed) == skip {
			continue
		}

		if m := uncheckedRe.FindStringSubmatch(line); m != nil {
			items = append(items, ChecklistItem{Text: strings.TrimSpace(m[1])})

			continue
		}

		if m := checkedRe.FindStringSubmatch(line); m != nil {
			items = append(items, ChecklistItem{Text: strings.TrimSpace(m[1]), Checked: true})
		}
	}

	return items
}

// FilterPriorityItems keeps items carrying a standalone P0 or P1 token after
// leading markdown punctuation is stripped and the text upper-cased.
func FilterPriorityItems(items []ChecklistItem) []ChecklistItem {
	var out []ChecklistItem

	for _, it := range items {
		normalized := strings.ToUpper(leadJunkRe.ReplaceAllString(it.Text, ""))

		if priorityRe.MatchString(normalized) {
			out = append(out, it)
		}
	}

	return out
}

// StopReason explains why a run ended without completing.
type StopReason string

// Stop reasons.
const (
	ReasonNoScenarioMatch StopReason = "no_scenario_match"
	ReasonZeroCheckboxes  StopReason = "zero_checkboxes"
	ReasonMaxCycles       StopReason = "max_cycles"
	ReasonSendFailed      StopReason = "send_failed"
	ReasonStageTimeout    StopReason = "stage_timeout"
	ReasonInitTimeout     StopReason = "init_timeout"
)

// Decision is the outcome of evaluating one review. It is a closed set:
// StopDecision, CompleteDecision or ContinueDecision.
type Decision interface {
	isDecision()
}

// StopDecision ends the run unsuccessfully.
type StopDecision struct {
	Reason    StopReason
	Remaining int
}

// CompleteDecision ends the run successfully.
type CompleteDecision struct{}

// ContinueDecision carries the items the fixer should address next.
type ContinueDecision struct {
	Items       []string
	NextCycle   int
	ScenarioKey string
}

func (StopDecision) isDecision()     {}
func (CompleteDecision) isDecision() {}
func (ContinueDecision) isDecision() {}

// DecideNext evaluates one reviewer message and determines what the run does
// next. It is pure: all state comes in through the arguments.
func DecideNext(reviewText string, cycle, maxCycles int, scenarios []Scenario) Decision {
	scenario, ok := DetectScenario(reviewText, scenarios)
	if !ok {
		return StopDecision{Reason: ReasonNoScenarioMatch}
	}

	items := ParseChecklistItems(reviewText, scenario.Trigger)
	if len(items) == 0 {
		return StopDecision{Reason: ReasonZeroCheckboxes}
	}

	var unchecked []ChecklistItem

	for _, it := range items {
		if !it.Checked {
			unchecked = append(unchecked, it)
		}
	}

	if len(unchecked) == 0 {
		return CompleteDecision{}
	}

	filtered := FilterPriorityItems(unchecked)
	if len(filtered) == 0 {
		return CompleteDecision{}
	}

	if cycle >= maxCycles {
		return StopDecision{Reason: ReasonMaxCycles, Remaining: len(filtered)}
	}

	texts := make([]string, len(filtered))
	for i, it := range filtered {
		texts[i] = it.Text
	}

	return ContinueDecision{
		Items:       texts,
		NextCycle:   cycle + 1,
		ScenarioKey: scenario.Key,
	}
}
