// Package category maps offers onto a fixed two-level taxonomy ("Top > Sub" or
// "Top") using ordered keyword rule tables, with a run-scoped index over the
// unfiltered upstream listing as a fallback.
package category

import "strings"

// Classify returns the taxonomy label for a category hint and product name.
// It returns "" when neither input carries any text. The result depends on the
// two inputs only.
func Classify(hint, name string) string {
	if strings.TrimSpace(hint) == "" && strings.TrimSpace(name) == "" {
		return ""
	}
	t := newText(hint, name)
	if t.empty() {
		return Other
	}

	if label, ok := beverage(t); ok {
		return label
	}

	best, bestScore := "", 0
	for _, r := range foodRules {
		if s := r.score(t); s > bestScore {
			best, bestScore = r.label, s
		}
	}
	if best != "" {
		return best
	}
	if genericFood.score(t) > 0 {
		return Food
	}

	for _, r := range nonFoodRules {
		if r.score(t) >= 2 {
			return r.label
		}
	}
	return Other
}

func beverage(t text) (string, bool) {
	alc := alcoholRule.score(t)
	nonAlc := nonAlcoholRule.score(t)
	switch {
	case alc >= 2 && alc >= nonAlc+1:
		return Alcohol, true
	case nonAlc >= 2:
		return NonAlcohol, true
	case strings.Contains(t.joined, beverageMarker):
		return NonAlcohol, true
	}
	return "", false
}
