package normalize

import (
	"regexp"
	"testing"
)

func TestWhitespace(t *testing.T) {
	cases := map[string]string{
		"":                                 "",
		"   ":                              "",
		"  Frikadelle  im \t Brötchen\n ": "Frikadelle im Brötchen",
		"single":                           "single",
	}
	for in, want := range cases {
		if got := Whitespace(in); got != want {
			t.Fatalf("Whitespace(%q)=%q want=%q", in, got, want)
		}
		if again := Whitespace(Whitespace(in)); again != Whitespace(in) {
			t.Fatalf("Whitespace not idempotent for %q: %q", in, again)
		}
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"  Frikadelle  im   Brötchen Stück ": "frikadelle-im-brotchen-stuck",
		"Müller Milch 3,5%":                   "muller-milch-3-5",
		"--Already--Sluggy--":                 "already-sluggy",
		"💥":                                   "",
		"":                                    "",
		"Crème brûlée":                        "creme-brulee",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestSlugifyAlphabet(t *testing.T) {
	valid := regexp.MustCompile(`^([a-z0-9]+(-[a-z0-9]+)*)?$`)
	inputs := []string{
		"Äpfel & Birnen!!", " - ", "Coca-Cola Zero 1,5 l", "100% Vollkorn", "ß straße", "日本茶 green tea",
	}
	for _, in := range inputs {
		got := Slugify(in)
		if !valid.MatchString(got) {
			t.Fatalf("Slugify(%q)=%q has invalid characters or edge hyphens", in, got)
		}
	}
}

func TestFold(t *testing.T) {
	cases := map[string]string{
		"Getränke":                     "getraenke",
		"Süßwaren & Snacks":            "suesswaren snacks",
		"Zuckererbsen je 200-g-Packg.": "zuckererbsen je 200 g packg",
		"  ":                           "",
		"Rosé-Wein":                    "rose wein",
	}
	for in, want := range cases {
		if got := Fold(in); got != want {
			t.Fatalf("Fold(%q)=%q want=%q", in, got, want)
		}
	}
}
