// Package tokenizer provides text tokenisation for the index. The Simple
// tokenizer lower-cases input and splits on non-alphanumeric boundaries; the
// Stemming tokenizer additionally removes stop-words and applies a
// suffix-based stemmer.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/config"
)

// Token represents a single normalised term, its ordinal position among the
// emitted tokens and its byte span in the original text.
type Token struct {
	Term     string
	Position int
	Start    int
	End      int
}

// Tokenizer turns text into normalised tokens. The index, the query parser
// and the excerpt builder must share one implementation.
type Tokenizer interface {
	Tokenize(text string) []Token
}

// New returns the tokenizer selected by cfg.
func New(cfg config.TokenizerConfig) Tokenizer {
	minLen := cfg.MinLength
	if minLen < 1 {
		minLen = 1
	}
	if cfg.Stem {
		return &Stemming{MinLength: minLen}
	}
	return &Simple{MinLength: minLen}
}

// Simple lower-cases and splits on anything that is not a letter or digit.
type Simple struct {
	MinLength int
}

func (s *Simple) Tokenize(text string) []Token {
	return split(text, func(word string) (string, bool) {
		if utf8.RuneCountInString(word) < s.MinLength {
			return "", false
		}
		return word, true
	})
}

// Stemming is Simple plus stop-word removal and suffix stemming.
type Stemming struct {
	MinLength int
}

func (s *Stemming) Tokenize(text string) []Token {
	return split(text, func(word string) (string, bool) {
		if utf8.RuneCountInString(word) < s.MinLength {
			return "", false
		}
		if _, isStop := stopWords[word]; isStop {
			return "", false
		}
		stemmed := stem(word)
		if stemmed == "" {
			return "", false
		}
		return stemmed, true
	})
}

// split walks text once, emitting lower-cased words with their byte spans.
// normalize may rewrite or reject each word.
func split(text string, normalize func(string) (string, bool)) []Token {
	tokens := make([]Token, 0, len(text)/6)
	pos := 0
	start := -1
	emit := func(end int) {
		term, ok := normalize(strings.ToLower(text[start:end]))
		if ok {
			tokens = append(tokens, Token{Term: term, Position: pos, Start: start, End: end})
			pos++
		}
		start = -1
	}
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			emit(i)
		}
	}
	if start >= 0 {
		emit(len(text))
	}
	return tokens
}

// Terms returns just the normalised terms of text, in order.
func Terms(tok Tokenizer, text string) []string {
	tokens := tok.Tokenize(text)
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return terms
}
