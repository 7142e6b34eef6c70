package category

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		hint, name string
		want       string
	}{
		{"Bier", "", Alcohol},
		{"Wasser", "", NonAlcohol},
		{"", "Zuckererbsen ... je 200-g-Packg.", "Lebensmittel > Gemüse"},
		{"", "Haferflocken 100% Vollkorn je 500-g-Packg.", "Lebensmittel > Grundnahrungsmittel"},
		{"", "Krombacher Pils 20 x 0,5 l", Alcohol},
		{"", "Krombacher Alkoholfreies Bier", NonAlcohol},
		{"Getränke", "Bio Hafer Drink", NonAlcohol},
		{"", "Frikadelle im Brötchen Stück", "Lebensmittel > Fleisch & Fisch"},
		{"", "Alpenmilch Schokolade", "Lebensmittel > Süßwaren & Snacks"},
		{"", "Bananen lose je kg", "Lebensmittel > Obst"},
		{"Feinkost", "Spezialität des Hauses", Food},
		{"", "Persil Waschmittel Universal", "Haushalt"},
		{"", "Whiskas Katzenfutter Multipack", "Tierbedarf"},
		{"", "Akkuschrauber 18V", "Baumarkt & Garten"},
		{"", "Schweine-Nackensteak Original", "Lebensmittel > Fleisch & Fisch"},
		{"", "Rumpsteak Original", "Lebensmittel > Fleisch & Fisch"},
		{"", "Original Vollkornbrot", "Lebensmittel > Backwaren"},
		{"", "Rotkohl im Glas", "Lebensmittel > Gemüse"},
		{"", "Toaster 2 Scheiben", "Elektronik"},
		{"", "Gin Tonic Dose", Alcohol},
		{"", "Irgendwas Unbekanntes", Other},
		{"", "", ""},
		{"  ", "\t", ""},
	}
	for _, c := range cases {
		if got := Classify(c.hint, c.name); got != c.want {
			t.Fatalf("Classify(%q, %q)=%q want=%q", c.hint, c.name, got, c.want)
		}
	}
}

func TestClassifyDeterministic(t *testing.T) {
	first := Classify("Molkereiprodukte", "Weidemilch 3,8% 1 l")
	for i := 0; i < 20; i++ {
		if got := Classify("Molkereiprodukte", "Weidemilch 3,8% 1 l"); got != first {
			t.Fatalf("run %d: got=%q want=%q", i, got, first)
		}
	}
}

func TestClassifySymbolsOnly(t *testing.T) {
	if got := Classify("", "💥"); got != Other {
		t.Fatalf("got=%q want=%q", got, Other)
	}
}

func TestFoodTieGoesToEarlierRule(t *testing.T) {
	// "frikadelle" (Fleisch & Fisch) and "brötchen" (Backwaren) both score 2.
	if got := Classify("", "Frikadelle Brötchen"); got != "Lebensmittel > Fleisch & Fisch" {
		t.Fatalf("got=%q", got)
	}
}

func TestRuleScore(t *testing.T) {
	r := newRule("x", "korn", "=gin", "craft beer")
	cases := map[string]int{
		"Korn":            2,
		"Vollkorn":        1,
		"Gin":             2,
		"Original":        0,
		"Craft Beer IPA":  2,
		"Mineralwasser":   0,
		"Korn Craft Beer": 4,
	}
	for in, want := range cases {
		if got := r.score(newText(in)); got != want {
			t.Fatalf("score(%q)=%d want=%d", in, got, want)
		}
	}
}
