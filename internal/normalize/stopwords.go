package normalize

import (
	"strings"

	sastrawi "github.com/RadhiFadlillah/go-sastrawi"
)

// StopwordRemover drops stopwords from whitespace-separated text.
type StopwordRemover interface {
	Remove(text string) string
}

// WordSet is a stopword list keyed by lowercase token.
type WordSet map[string]struct{}

// NewWordSet builds a WordSet from words.
func NewWordSet(words ...string) WordSet {
	set := make(WordSet, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

// Contains reports whether token is a stopword.
func (s WordSet) Contains(token string) bool {
	_, ok := s[token]
	return ok
}

// Remove returns text without its stopwords, single-space separated.
func (s WordSet) Remove(text string) string {
	return removeWords(text, s.Contains)
}

// DictionaryStopwords is a go-sastrawi dictionary used as a stopword list,
// extended with extra words.
type DictionaryStopwords struct {
	dict  sastrawi.Dictionary
	extra WordSet
}

// Contains reports whether token is a stopword.
func (d DictionaryStopwords) Contains(token string) bool {
	return d.extra.Contains(token) || d.dict.Contains(token)
}

// Remove returns text without its stopwords, single-space separated.
func (d DictionaryStopwords) Remove(text string) string {
	return removeWords(text, d.Contains)
}

// Indonesian returns the go-sastrawi default stopword dictionary. The
// PySastrawi default list is merged in so every word it drops is still
// dropped here.
func Indonesian() DictionaryStopwords {
	return DictionaryStopwords{
		dict:  sastrawi.DefaultStopword(),
		extra: NewWordSet(indonesianStopwords...),
	}
}

func removeWords(text string, stop func(string) bool) string {
	tokens := strings.Fields(text)
	kept := tokens[:0]
	for _, tok := range tokens {
		if !stop(strings.ToLower(tok)) {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

// English returns a general-purpose English stopword list.
func English() WordSet {
	return NewWordSet(englishStopwords...)
}

var indonesianStopwords = []string{
	"yang", "untuk", "pada", "ke", "para", "namun", "menurut", "antara", "dia", "dua",
	"ia", "seperti", "jika", "sehingga", "kembali", "dan", "tidak", "ini", "karena",
	"kepada", "oleh", "saat", "harus", "sementara", "setelah", "belum", "kami", "sekitar",
	"bagi", "serta", "di", "dari", "telah", "sebagai", "masih", "hal", "ketika", "adalah",
	"itu", "dalam", "bisa", "bahwa", "atau", "hanya", "kita", "dengan", "akan", "juga",
	"ada", "mereka", "sudah", "saya", "terhadap", "secara", "agar", "lain", "anda",
	"begitu", "mengapa", "kenapa", "yaitu", "yakni", "daripada", "itulah", "lagi", "maka",
	"tentang", "demi", "dimana", "kemana", "pula", "sambil", "sebelum", "sesudah", "supaya",
	"guna", "kah", "pun", "sampai", "sedangkan", "selagi", "tetapi", "apakah", "kecuali",
	"sebab", "selain", "seolah", "seraya", "seterusnya", "tanpa", "agak", "boleh", "dapat",
	"dsb", "dst", "dll", "dahulu", "dulunya", "anu", "demikian", "tapi", "ingin", "nggak",
	"mari", "nanti", "melainkan", "oh", "ok", "seharusnya", "sebetulnya", "setiap",
	"setidaknya", "sesuatu", "pasti", "saja", "toh", "ya", "walau", "tolong", "tentu",
	"amat", "apalagi", "bagaimanapun",
}

var englishStopwords = []string{
	"a", "about", "above", "after", "again", "against", "all", "am", "an", "and", "any",
	"are", "as", "at", "be", "because", "been", "before", "being", "below", "between",
	"both", "but", "by", "can", "could", "did", "do", "does", "doing", "down", "during",
	"each", "few", "for", "from", "further", "had", "has", "have", "having", "he", "her",
	"here", "hers", "herself", "him", "himself", "his", "how", "i", "if", "in", "into",
	"is", "it", "its", "itself", "just", "me", "more", "most", "my", "myself", "no", "nor",
	"not", "now", "of", "off", "on", "once", "only", "or", "other", "our", "ours",
	"ourselves", "out", "over", "own", "same", "she", "should", "so", "some", "such",
	"than", "that", "the", "their", "theirs", "them", "themselves", "then", "there",
	"these", "they", "this", "those", "through", "to", "too", "under", "until", "up",
	"very", "was", "we", "were", "what", "when", "where", "which", "while", "who", "whom",
	"why", "will", "with", "would", "you", "your", "yours", "yourself", "yourselves",
}
