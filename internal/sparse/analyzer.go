package sparse

import (
	"strings"
	"unicode"

	porterstemmer "github.com/blevesearch/go-porterstemmer"
	"github.com/cespare/xxhash/v2"
	"github.com/knoguchi/hybridkb/internal/models"
)

// stopwords is the English stopword list applied before stemming.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a about above after again against all am an and any are aren't as at
		be because been before being below between both but by can cannot could
		couldn't did didn't do does doesn't doing don't down during each few for
		from further had hadn't has hasn't have haven't having he her here hers
		herself him himself his how i if in into is isn't it it's its itself
		just me more most mustn't my myself no nor not now of off on once only or
		other our ours ourselves out over own same shan't she should shouldn't so
		some such than that the their theirs them themselves then there these
		they this those through to too under until up very was wasn't we were
		weren't what when where which while who whom why will with won't would
		wouldn't you your yours yourself yourselves s t d ll m o re ve y`) {
		stopwords[w] = struct{}{}
	}
}

// analyze lowercases text, strips punctuation, drops stopwords and stems the
// remaining words.
func analyze(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := stopwords[w]; stop {
			continue
		}
		w = strings.ReplaceAll(w, "'", "")
		if w == "" {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		tokens = append(tokens, porterstemmer.StemString(w))
	}
	return tokens
}

// tokenIndex maps a stemmed token into the shared sparse index space.
func tokenIndex(token string) uint32 {
	return uint32(xxhash.Sum64String(token) % models.SparseDimension)
}
