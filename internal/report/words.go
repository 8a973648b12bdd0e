package report

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// minStatWordLen drops tokens of two characters or fewer from statistics.
	minStatWordLen = 3
	// minCloudWordLen drops single letters from the word cloud.
	minCloudWordLen = 2
)

// WordCount is a token and its frequency.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// TopWords counts whitespace tokens of at least minLen runes across texts and
// returns the n most frequent. Ties keep first-occurrence order.
func TopWords(texts []string, n, minLen int) []WordCount {
	if n <= 0 {
		return nil
	}
	index := map[string]int{}
	var counts []WordCount
	for _, text := range texts {
		for _, word := range strings.Fields(text) {
			if utf8.RuneCountInString(word) < minLen {
				continue
			}
			if i, ok := index[word]; ok {
				counts[i].Count++
				continue
			}
			index[word] = len(counts)
			counts = append(counts, WordCount{Word: word, Count: 1})
		}
	}
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})
	if len(counts) > n {
		counts = counts[:n]
	}
	return counts
}
