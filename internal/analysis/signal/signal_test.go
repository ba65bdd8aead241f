package signal

import "testing"

func TestClassifyApology(t *testing.T) {
	if got := Classify("Apologise for the inconvenience before explaining"); got != Apology {
		t.Fatalf("expected apology, got %s", got)
	}
}

func TestClassifySolution(t *testing.T) {
	if got := Classify("Offer a concrete alternative such as an upgrade"); got != Solution {
		t.Fatalf("expected solution, got %s", got)
	}
}

func TestClassifyUnknown(t *testing.T) {
	if got := Classify("xyz"); got != Other {
		t.Fatalf("expected other, got %s", got)
	}
	if got := Classify("   "); got != Other {
		t.Fatalf("expected other for blank text, got %s", got)
	}
}

func TestCountThemesDeterministic(t *testing.T) {
	suggestions := []string{
		"Say sorry first",
		"Offer an upgrade",
		"Offer a voucher",
		"Use the guest's name",
		"Apologize sincerely",
	}

	first := CountThemes(suggestions)
	for i := 0; i < 20; i++ {
		again := CountThemes(suggestions)
		if len(again) != len(first) {
			t.Fatalf("length changed between runs")
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d differs at %d: %+v vs %+v", i, j, again[j], first[j])
			}
		}
	}

	// apology and solution tie at 2; apology comes first in theme order.
	if first[0].Theme != Apology || first[0].Count != 2 {
		t.Fatalf("unexpected first theme: %+v", first[0])
	}
	if first[1].Theme != Solution || first[1].Count != 2 {
		t.Fatalf("unexpected second theme: %+v", first[1])
	}
}

func TestMatchPhraseNormalises(t *testing.T) {
	phrase, ok := MatchPhrase("OK,  the   Charge has been WAIVED.", []string{"the charge has been waived"})
	if !ok || phrase != "the charge has been waived" {
		t.Fatalf("expected match, got %q %v", phrase, ok)
	}

	if _, ok := MatchPhrase("I’m leaving now", DefaultExitPhrases); !ok {
		t.Fatal("expected curly apostrophe to match default exit phrase")
	}

	if _, ok := MatchPhrase("hello", nil); ok {
		t.Fatal("expected no match with no phrases")
	}
}
