// Package parser turns a raw search string into a QueryPlan.
//
// Words are OR-ed by default. AND between words switches the whole query to
// conjunctive matching; OR may be written explicitly. NOT word and -word
// exclude documents containing the word. Operators are recognised only in
// upper case, so "not found" is two ordinary words. Double quotes group
// words so that operators inside them are ordinary words.
package parser

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/errors"
)

// MaxQueryLength is the longest accepted query, in bytes.
const MaxQueryLength = 1024

type QueryType int

const (
	QueryOR QueryType = iota
	QueryAND
)

func (t QueryType) String() string {
	if t == QueryAND {
		return "AND"
	}
	return "OR"
}

type QueryPlan struct {
	Terms        []string
	Type         QueryType
	ExcludeTerms []string
	RawQuery     string
}

// Empty reports whether the plan can match nothing.
func (p *QueryPlan) Empty() bool {
	return len(p.Terms) == 0
}

// LookupTerms returns every term the index must be asked about.
func (p *QueryPlan) LookupTerms() []string {
	out := make([]string, 0, len(p.Terms)+len(p.ExcludeTerms))
	out = append(out, p.Terms...)
	return append(out, p.ExcludeTerms...)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperrors.ErrInvalidQuery, fmt.Sprintf(format, args...))
}

type lexeme struct {
	text    string
	quoted  bool
	negated bool
}

func (l lexeme) operator() string {
	if l.quoted || l.negated {
		return ""
	}
	switch l.text {
	case "AND", "OR", "NOT":
		return l.text
	}
	return ""
}

// Parse validates query and normalises its words with tok, the same
// tokenizer the index uses.
func Parse(query string, tok tokenizer.Tokenizer) (*QueryPlan, error) {
	if strings.TrimSpace(query) == "" {
		return nil, invalid("empty query")
	}
	if len(query) > MaxQueryLength {
		return nil, invalid("query longer than %d bytes", MaxQueryLength)
	}
	lexemes, err := lex(query)
	if err != nil {
		return nil, err
	}
	if len(lexemes) == 0 {
		return nil, invalid("empty query")
	}

	plan := &QueryPlan{
		Terms:        make([]string, 0),
		ExcludeTerms: make([]string, 0),
		Type:         QueryOR,
		RawQuery:     query,
	}
	var (
		sawAnd, sawOr  bool
		pendingOp      string
		pendingNot     bool
		hadOperand     bool
		positive       int
		seen, excluded = map[string]struct{}{}, map[string]struct{}{}
	)
	for _, lx := range lexemes {
		switch op := lx.operator(); op {
		case "AND", "OR":
			if !hadOperand || pendingOp != "" || pendingNot {
				return nil, invalid("%s without a preceding word", op)
			}
			if op == "AND" {
				sawAnd = true
			} else {
				sawOr = true
			}
			pendingOp = op
			continue
		case "NOT":
			if pendingNot {
				return nil, invalid("NOT NOT")
			}
			pendingNot = true
			continue
		}

		exclude := lx.negated || pendingNot
		pendingNot = false
		pendingOp = ""
		hadOperand = true
		if !exclude {
			positive++
		}
		for _, term := range tokenizer.Terms(tok, lx.text) {
			if exclude {
				if _, dup := excluded[term]; !dup {
					excluded[term] = struct{}{}
					plan.ExcludeTerms = append(plan.ExcludeTerms, term)
				}
				continue
			}
			if _, dup := seen[term]; !dup {
				seen[term] = struct{}{}
				plan.Terms = append(plan.Terms, term)
			}
		}
	}

	switch {
	case pendingOp != "":
		return nil, invalid("%s without a following word", pendingOp)
	case pendingNot:
		return nil, invalid("NOT without a following word")
	case sawAnd && sawOr:
		return nil, invalid("AND and OR cannot be mixed")
	case positive == 0:
		return nil, invalid("query only excludes words")
	}
	if sawAnd {
		plan.Type = QueryAND
	}
	return plan, nil
}

// lex splits query on whitespace, keeping double-quoted groups together.
// A leading '-' marks a word or quoted group as excluded.
func lex(query string) ([]lexeme, error) {
	var (
		out []lexeme
		buf strings.Builder
	)
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		text := buf.String()
		buf.Reset()
		lx := lexeme{text: text}
		if len(text) > 1 && text[0] == '-' {
			lx.text, lx.negated = text[1:], true
		}
		out = append(out, lx)
	}

	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == '"':
			negated := buf.String() == "-"
			if negated {
				buf.Reset()
			}
			flush()
			closing := strings.IndexByte(query[i+1:], '"')
			if closing < 0 {
				return nil, invalid("unbalanced quotes")
			}
			inner := query[i+1 : i+1+closing]
			if strings.TrimSpace(inner) != "" {
				out = append(out, lexeme{text: inner, quoted: true, negated: negated})
			}
			i += closing + 2
		default:
			r, size := utf8.DecodeRuneInString(query[i:])
			if unicode.IsSpace(r) {
				flush()
			} else {
				buf.WriteString(query[i : i+size])
			}
			i += size
		}
	}
	flush()
	return out, nil
}
