package signal

import (
	"sort"
	"strings"
)

// Theme labels a recurring improvement area in evaluator suggestions.
type Theme string

const (
	Empathy   Theme = "empathy"
	Apology   Theme = "apology"
	Ownership Theme = "ownership"
	Solution  Theme = "solution"
	Clarity   Theme = "clarity"
	Courtesy  Theme = "courtesy"
	FollowUp  Theme = "follow_up"
	Policy    Theme = "policy"
	Other     Theme = "other"
)

// themeOrder fixes tie-breaking so classification never depends on map iteration.
var themeOrder = []Theme{Empathy, Apology, Ownership, Solution, Clarity, Courtesy, FollowUp, Policy}

var keywordBuckets = map[Theme][]string{
	Empathy: {
		"empathy", "empathi", "acknowledge", "feelings", "frustration", "understand how",
		"validate", "listen", "put yourself", "emotion", "concern",
	},
	Apology: {
		"apolog", "sorry", "regret", "inconvenience",
	},
	Ownership: {
		"ownership", "take responsibility", "personally", "i will handle", "commit", "escalat",
	},
	Solution: {
		"offer", "alternative", "option", "solution", "resolve", "compensat", "upgrade",
		"voucher", "refund", "waive", "concrete",
	},
	Clarity: {
		"clear", "concise", "explain", "specific", "jargon", "simple", "confirm", "restate", "summar",
	},
	Courtesy: {
		"polite", "courte", "name", "greet", "thank", "tone", "warm", "friendly", "smile",
	},
	FollowUp: {
		"follow up", "follow-up", "check back", "next step", "call back", "ensure", "verify",
	},
	Policy: {
		"policy", "procedure", "rule", "within the limit", "authori", "manager approval",
	},
}

// Count is the number of suggestions classified under one theme.
type Count struct {
	Theme Theme
	Count int
}

// Classify returns the strongest theme for a suggestion, or Other.
func Classify(text string) Theme {
	normalized := Normalize(text)
	if normalized == "" {
		return Other
	}

	best := Other
	bestScore := 0
	for _, theme := range themeOrder {
		score := 0
		for _, word := range keywordBuckets[theme] {
			if strings.Contains(normalized, word) {
				score += 3
			}
		}
		if score > bestScore {
			best = theme
			bestScore = score
		}
	}
	return best
}

// CountThemes classifies every suggestion and returns the totals, most frequent first.
// Equal counts keep the fixed theme order, Other last.
func CountThemes(suggestions []string) []Count {
	totals := make(map[Theme]int)
	for _, s := range suggestions {
		totals[Classify(s)]++
	}

	counts := make([]Count, 0, len(totals))
	for _, theme := range append(append([]Theme(nil), themeOrder...), Other) {
		if n := totals[theme]; n > 0 {
			counts = append(counts, Count{Theme: theme, Count: n})
		}
	}
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})
	return counts
}

// DefaultExitPhrases are guest lines that end the interaction when a scenario defines none.
var DefaultExitPhrases = []string{
	"goodbye",
	"i'm leaving",
	"i am leaving",
	"forget it",
	"i'll take my business elsewhere",
	"i will take my business elsewhere",
	"never staying here again",
}

// MatchPhrase reports the first phrase contained in text after normalisation.
func MatchPhrase(text string, phrases []string) (string, bool) {
	normalized := Normalize(text)
	if normalized == "" {
		return "", false
	}
	for _, phrase := range phrases {
		p := Normalize(phrase)
		if p == "" {
			continue
		}
		if strings.Contains(normalized, p) {
			return phrase, true
		}
	}
	return "", false
}

// Normalize lowercases text, unifies apostrophes and collapses whitespace.
func Normalize(text string) string {
	replacer := strings.NewReplacer("’", "'", "‘", "'")
	lowered := strings.ToLower(replacer.Replace(text))
	return strings.Join(strings.Fields(lowered), " ")
}
