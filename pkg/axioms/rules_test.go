package axioms

import (
	"testing"

	"aegis/pkg/models"
)

func TestMatchesKeywords(t *testing.T) {
	rule := models.MatchRule{Kind: models.RuleKeywords, Keywords: []string{"delete all", "wipe"}}
	cases := []struct {
		action string
		want   bool
	}{
		{"delete all user data without confirmation", true},
		{"DELETE ALL records", true},
		{"wipe the staging database", true},
		{"summarize the meeting notes", false},
		{"delete one record", false},
	}
	for _, tc := range cases {
		if got := Matches(rule, tc.action); got != tc.want {
			t.Errorf("Matches(%q) = %v, want %v", tc.action, got, tc.want)
		}
	}
}

func TestMatchesRegexIsCaseInsensitive(t *testing.T) {
	rule := models.MatchRule{Kind: models.RuleRegex, Pattern: `(transfer|payout)\s+(all|entire)`}
	if !Matches(rule, "Transfer ALL remaining funds") {
		t.Fatal("regex should match case-insensitively")
	}
	if Matches(rule, "transfer some funds") {
		t.Fatal("regex should not match")
	}
}

func TestMatchesInvalidRegexNeverTriggers(t *testing.T) {
	rule := models.MatchRule{Kind: models.RuleRegex, Pattern: `([unclosed`}
	if Matches(rule, "anything") {
		t.Fatal("invalid pattern must not trigger")
	}
}

func TestMatchesCategoryMarker(t *testing.T) {
	rule := models.MatchRule{Kind: models.RuleCategory, Category: "pii"}
	if !Matches(rule, "export customer emails [category:pii]") {
		t.Fatal("marker should trigger category rule")
	}
	if Matches(rule, "export customer emails") {
		t.Fatal("category rule requires an explicit marker")
	}
	if Matches(models.MatchRule{Kind: models.RuleCategory}, "[category:]") {
		t.Fatal("empty category must never trigger")
	}
}

func TestMatchesUnknownKind(t *testing.T) {
	if Matches(models.MatchRule{Kind: "fuzzy"}, "anything") {
		t.Fatal("unknown rule kinds must not trigger")
	}
}
