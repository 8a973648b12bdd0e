// Package normalize turns raw review text into the cleaned, stopword-free
// and stemmed forms persisted alongside each review.
//
// Stages always run in the same order: Clean, stopword removal, stemming.
// Every stage is total: any input string, including the empty string,
// produces an output string.
package normalize
