package category

import (
	"strings"

	"github.com/bonalyze/offer-sync/internal/normalize"
)

// Labels of the two-level taxonomy.
const (
	Alcohol    = "Getränke > Alkohol"
	NonAlcohol = "Getränke > Alkoholfrei"
	Food       = "Lebensmittel"
	Other      = "Sonstiges"
)

// rule maps one label to its keyword set. Keywords are folded once at init.
// A keyword written as "=word" only matches the whole token.
type rule struct {
	label    string
	keywords []keyword
}

type keyword struct {
	word      string
	tokenOnly bool
}

func newRule(label string, keywords ...string) rule {
	folded := make([]keyword, 0, len(keywords))
	for _, kw := range keywords {
		tokenOnly := strings.HasPrefix(kw, "=")
		if f := normalize.Fold(strings.TrimPrefix(kw, "=")); f != "" {
			folded = append(folded, keyword{word: f, tokenOnly: tokenOnly})
		}
	}
	return rule{label: label, keywords: folded}
}

func foodRule(sub string, keywords ...string) rule {
	return newRule(Food+" > "+sub, keywords...)
}

var alcoholRule = newRule(Alcohol,
	"bier", "pils", "pilsner", "weizen", "weißbier", "hefeweizen", "radler", "=lager", "craft beer",
	"=wein", "rotwein", "weißwein", "=sekt", "prosecco", "champagner", "=cava", "cidre", "glühwein",
	"spirituosen", "wodka", "vodka", "whisky", "whiskey", "=rum", "=gin", "likör", "=korn", "schnaps",
	"aperitif", "tequila", "brandy", "cognac", "weinbrand", "alkoholhaltig",
)

var nonAlcoholRule = newRule(NonAlcohol,
	"wasser", "mineralwasser", "sprudel", "saft", "orangensaft", "apfelsaft", "nektar", "schorle",
	"limonade", "=limo", "cola", "fanta", "sprite", "eistee", "=tee", "kaffee", "espresso",
	"energy drink", "energydrink", "smoothie", "sirup", "isotonisch",
	"alkoholfrei", "alkoholfreies", "alkoholfreie",
)

// beverageMarker routes otherwise unclassified drinks to NonAlcohol.
var beverageMarker = normalize.Fold("getränk")

// foodRules is evaluated as a whole; the highest score wins and ties go to the
// earlier entry.
var foodRules = []rule{
	foodRule("Konserven",
		"konserve", "konserven", "dose", "dosen", "eingelegt", "eingemacht", "gewürzgurken",
	),
	foodRule("Gemüse",
		"gemüse", "zuckererbsen", "erbsen", "bohnen", "karotten", "möhren", "kartoffeln", "kartoffel",
		"tomaten", "tomate", "gurke", "gurken", "paprika", "zwiebeln", "zwiebel", "salat", "brokkoli",
		"blumenkohl", "=kohl", "rotkohl", "weißkohl", "sauerkraut", "zucchini", "spinat", "champignons", "pilze", "lauch", "kohlrabi", "spargel",
		"mais", "radieschen", "aubergine", "knoblauch", "suppengrün",
	),
	foodRule("Obst",
		"obst", "äpfel", "apfel", "birnen", "bananen", "banane", "orangen", "mandarinen", "clementinen",
		"zitronen", "trauben", "weintrauben", "erdbeeren", "heidelbeeren", "himbeeren", "kiwi", "ananas",
		"mango", "melone", "pfirsiche", "nektarinen", "kirschen", "pflaumen", "avocado",
	),
	foodRule("Tiefkühl",
		"tiefkühl", "=tk", "tiefgekühlt", "gefroren", "speiseeis", "eiscreme", "stieleis", "eis am stiel",
		"pommes", "fischstäbchen",
	),
	foodRule("Molkereiprodukte & Eier",
		"milch", "vollmilch", "buttermilch", "joghurt", "jogurt", "quark", "käse", "frischkäse", "butter",
		"sahne", "schmand", "creme fraiche", "mozzarella", "gouda", "emmentaler", "camembert", "feta",
		"skyr", "kefir", "eier", "freilandeier",
	),
	foodRule("Fleisch & Fisch",
		"fleisch", "hackfleisch", "=rind", "rindfleisch", "schwein", "schweinefleisch", "hähnchen", "huhn",
		"pute", "puten", "geflügel", "steak", "schnitzel", "kotelett", "gulasch", "filet", "wurst",
		"bratwurst", "würstchen", "salami", "schinken", "speck", "aufschnitt", "leberkäse", "frikadelle",
		"fisch", "lachs", "thunfisch", "garnelen", "hering", "forelle",
	),
	foodRule("Backwaren",
		"backwaren", "brot", "brötchen", "=toast", "toastbrot", "baguette", "croissant", "brezel", "laugen",
		"semmel", "ciabatta", "knäckebrot", "zwieback", "kuchen", "torte", "muffin", "donut", "berliner",
	),
	foodRule("Süßwaren & Snacks",
		"süßwaren", "süßigkeiten", "schokolade", "milchschokolade", "praline", "pralinen", "bonbons",
		"gummibärchen", "fruchtgummi", "lakritz", "kekse", "keks", "waffeln", "riegel", "chips", "nüsse",
		"erdnüsse", "salzstangen", "popcorn", "cracker", "snack", "snacks", "nougat", "marzipan",
	),
	foodRule("Fertiggerichte",
		"fertiggericht", "fertiggerichte", "pizza", "lasagne", "suppe", "eintopf", "ravioli",
		"maultaschen", "burger", "wraps", "instant nudeln",
	),
	foodRule("Gewürze, Öle & Saucen",
		"gewürz", "gewürze", "salz", "pfeffer", "paprikapulver", "=öl", "olivenöl", "rapsöl",
		"sonnenblumenöl", "essig", "sauce", "soße", "ketchup", "senf", "mayonnaise", "mayo", "dressing",
		"brühe", "bouillon", "pesto", "remoulade",
	),
	foodRule("Grundnahrungsmittel",
		"grundnahrungsmittel", "mehl", "zucker", "=reis", "nudeln", "spaghetti", "pasta", "haferflocken",
		"hafer", "müsli", "cornflakes", "cerealien", "linsen", "grieß", "backpulver", "hefe", "honig",
		"marmelade", "konfitüre", "brotaufstrich",
	),
}

var genericFood = newRule(Food, "lebensmittel", "nahrungsmittel", "feinkost", "food")

// nonFoodRules needs a score of at least 2; the first qualifying entry wins.
var nonFoodRules = []rule{
	newRule("Drogerie",
		"drogerie", "kosmetik", "shampoo", "spülung", "duschgel", "seife", "zahnpasta", "zahnbürste",
		"=deo", "deodorant", "rasierer", "hautpflege", "haarspray", "parfum", "make up",
	),
	newRule("Haushalt",
		"haushalt", "waschmittel", "spülmittel", "weichspüler", "reiniger", "putzmittel", "müllbeutel",
		"toilettenpapier", "küchenrolle", "taschentücher", "schwamm", "geschirr", "topf", "pfanne",
	),
	newRule("Tierbedarf",
		"tierbedarf", "tiernahrung", "hundefutter", "katzenfutter", "nassfutter", "trockenfutter",
		"katzenstreu", "vogelfutter", "hund", "katze",
	),
	newRule("Baby & Kind",
		"baby", "babynahrung", "windeln", "schnuller", "feuchttücher", "kinder", "spielzeug",
	),
	newRule("Gesundheit",
		"gesundheit", "apotheke", "vitamin", "vitamine", "nahrungsergänzung", "pflaster", "tabletten",
		"kapseln", "erkältung", "schmerz",
	),
	newRule("Baumarkt & Garten",
		"baumarkt", "garten", "werkzeug", "bohrmaschine", "akkuschrauber", "schrauben", "pflanzen",
		"blumen", "blumenerde", "dünger", "rasen", "grill", "farbe",
	),
	newRule("Elektronik",
		"elektronik", "fernseher", "=tv", "smartphone", "handy", "laptop", "notebook", "tablet",
		"kopfhörer", "lautsprecher", "kamera", "konsole", "ladegerät", "=usb", "bluetooth", "toaster", "wasserkocher",
	),
	newRule("Mode",
		"=mode", "bekleidung", "jacke", "hose", "shirt", "t shirt", "pullover", "schuhe", "sneaker",
		"socken", "kleid", "unterwäsche",
	),
	newRule("Wohnen",
		"wohnen", "möbel", "lampe", "kissen", "decke", "bettwäsche", "teppich", "vorhang", "handtuch",
		"handtücher", "deko", "regal",
	),
	newRule("Freizeit & Sport",
		"freizeit", "sport", "fitness", "yoga", "fahrrad", "camping", "zelt", "outdoor", "wandern",
		"ball", "koffer",
	),
}

// text is the folded matching form of hint and name.
type text struct {
	joined string
	tokens map[string]struct{}
}

func newText(parts ...string) text {
	folded := make([]string, 0, len(parts))
	for _, p := range parts {
		if f := normalize.Fold(p); f != "" {
			folded = append(folded, f)
		}
	}
	joined := strings.Join(folded, " ")
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(joined) {
		tokens[tok] = struct{}{}
	}
	return text{joined: joined, tokens: tokens}
}

func (t text) empty() bool { return t.joined == "" }

// score weights whole-token hits and multi-word phrase hits with 2 and any
// other substring hit with 1. Token-only keywords never score a substring hit.
func (r rule) score(t text) int {
	total := 0
	for _, kw := range r.keywords {
		switch {
		case strings.Contains(kw.word, " "):
			if strings.Contains(t.joined, kw.word) {
				total += 2
			}
		case hasToken(t, kw.word):
			total += 2
		case !kw.tokenOnly && strings.Contains(t.joined, kw.word):
			total++
		}
	}
	return total
}

func hasToken(t text, kw string) bool {
	_, ok := t.tokens[kw]
	return ok
}
