package search

import (
	_ "embed"
	"math/rand/v2"
	"strings"
)

// DefaultWords is the number of words in a generated phrase.
const DefaultWords = 5

//go:embed lexicon.txt
var lexiconText string

// Lexicon is the embedded list of common English words.
var Lexicon = strings.Fields(lexiconText)

// PhraseGenerator makes random phrases from a word list. With the
// embedded lexicon and five words, repeats are practically impossible.
type PhraseGenerator struct {
	Words   int
	Lexicon []string
	rand    *rand.Rand
}

// NewPhraseGenerator returns a generator over the embedded lexicon; a nil
// r uses a randomly seeded source.
func NewPhraseGenerator(words int, r *rand.Rand) *PhraseGenerator {
	if words <= 0 {
		words = DefaultWords
	}
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &PhraseGenerator{Words: words, Lexicon: Lexicon, rand: r}
}

func (g *PhraseGenerator) Phrase() string {
	w := make([]string, g.Words)
	for i := range w {
		w[i] = g.Lexicon[g.rand.IntN(len(g.Lexicon))]
	}
	return strings.Join(w, " ")
}
