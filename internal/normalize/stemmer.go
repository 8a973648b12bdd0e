package normalize

import (
	"strings"

	sastrawi "github.com/RadhiFadlillah/go-sastrawi"
	"github.com/kljensen/snowball/english"
)

// Stemmer reduces every word of whitespace-separated text to its stem.
type Stemmer interface {
	Stem(text string) string
}

// SastrawiStemmer stems Indonesian text with the Sastrawi dictionary
// stemmer.
type SastrawiStemmer struct {
	stemmer sastrawi.Stemmer
}

// NewSastrawiStemmer loads the default Sastrawi root-word dictionary.
func NewSastrawiStemmer() *SastrawiStemmer {
	return &SastrawiStemmer{stemmer: sastrawi.NewStemmer(sastrawi.DefaultDictionary())}
}

// Stem stems each token of text.
func (s *SastrawiStemmer) Stem(text string) string {
	return stemTokens(text, s.stemmer.Stem)
}

// PorterStemmer stems English text with the Snowball (Porter2) algorithm.
type PorterStemmer struct{}

// Stem stems each token of text.
func (PorterStemmer) Stem(text string) string {
	return stemTokens(text, func(word string) string {
		return english.Stem(word, true)
	})
}

func stemTokens(text string, stem func(string) string) string {
	tokens := strings.Fields(text)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if s := stem(tok); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}
