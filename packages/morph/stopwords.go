package morph

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Function words: articles, prepositions, conjunctions, particles, interjections.
var englishStopWords = set(
	"a", "an", "the", "and", "or", "but", "nor", "so", "yet", "if", "then", "than",
	"of", "in", "on", "at", "to", "by", "for", "from", "with", "without", "into", "onto",
	"about", "above", "below", "over", "under", "between", "through", "during", "before", "after",
	"up", "down", "out", "off", "as", "is", "are", "was", "were", "be", "been", "being",
	"am", "do", "does", "did", "has", "have", "had", "it", "its", "this", "that", "these", "those",
	"not", "no", "oh", "ah", "wow", "hey", "just", "very", "too", "also",
)

var russianStopWords = set(
	"и", "а", "но", "или", "да", "ни", "что", "чтобы", "как", "если", "то", "же", "ли", "бы",
	"в", "во", "на", "с", "со", "к", "ко", "по", "о", "об", "обо", "от", "до", "из", "у", "за",
	"над", "под", "при", "про", "для", "без", "через", "между", "перед",
	"не", "вот", "вон", "даже", "уже", "ведь", "лишь", "только", "ах", "ох", "эх", "ой", "ну",
)
