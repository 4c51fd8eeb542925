package textprep

// Trigrams returns the set of padded word trigrams of s
func Trigrams(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range Tokenize(s) {
		padded := []rune("  " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
	}
	return set
}

// TrigramSimilarity returns |A∩B| / |A∪B| over the trigram sets of a and b
func TrigramSimilarity(a, b string) float64 {
	ta, tb := Trigrams(a), Trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := countShared(ta, tb)
	return float64(shared) / float64(len(ta)+len(tb)-shared)
}

// WordSimilarity returns the fraction of query trigrams present in doc
func WordSimilarity(query, doc string) float64 {
	tq := Trigrams(query)
	if len(tq) == 0 {
		return 0
	}
	return WordSimilaritySets(tq, Trigrams(doc))
}

// WordSimilaritySets is WordSimilarity over precomputed trigram sets
func WordSimilaritySets(query, doc map[string]struct{}) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	return float64(countShared(query, doc)) / float64(len(query))
}

func countShared(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for g := range a {
		if _, ok := b[g]; ok {
			n++
		}
	}
	return n
}
