package parser

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/errors"
)

var tok = &tokenizer.Simple{MinLength: 1}

func TestParse(t *testing.T) {
	tests := []struct {
		query   string
		terms   []string
		exclude []string
		typ     QueryType
	}{
		{"ownership", []string{"ownership"}, nil, QueryOR},
		{"Rust  borrowing", []string{"rust", "borrowing"}, nil, QueryOR},
		{"rust OR go", []string{"rust", "go"}, nil, QueryOR},
		{"rust AND go and c", []string{"rust", "go", "and", "c"}, nil, QueryAND},
		{"not found", []string{"not", "found"}, nil, QueryOR},
		{"and then", []string{"and", "then"}, nil, QueryOR},
		{"to be or not to be", []string{"to", "be", "or", "not"}, nil, QueryOR},
		{"Rust Or Go", []string{"rust", "or", "go"}, nil, QueryOR},
		{"rust NOT java", []string{"rust"}, []string{"java"}, QueryOR},
		{"rust -java -cobol", []string{"rust"}, []string{"java", "cobol"}, QueryOR},
		{"rust AND NOT java", []string{"rust"}, []string{"java"}, QueryAND},
		{`"rust AND go" tools`, []string{"rust", "and", "go", "tools"}, nil, QueryOR},
		{`-"old stuff" new`, []string{"new"}, []string{"old", "stuff"}, QueryOR},
		{"go go GO", []string{"go"}, nil, QueryOR},
		{"e-mail", []string{"e", "mail"}, nil, QueryOR},
		{"- dash", []string{"dash"}, nil, QueryOR},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			plan, err := Parse(tt.query, tok)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.terms, plan.Terms); diff != "" {
				t.Errorf("terms (-want +got):\n%s", diff)
			}
			if tt.exclude == nil {
				tt.exclude = []string{}
			}
			if diff := cmp.Diff(tt.exclude, plan.ExcludeTerms); diff != "" {
				t.Errorf("exclusions (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.typ, plan.Type)
			assert.Equal(t, tt.query, plan.RawQuery)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []string{
		"",
		"   ",
		`""`,
		`"unterminated phrase`,
		"AND rust",
		"OR rust",
		"rust AND",
		"rust OR",
		"rust NOT",
		"rust NOT NOT go",
		"rust AND OR go",
		"rust AND go OR c",
		"-java",
		"NOT java",
		strings.Repeat("a ", MaxQueryLength),
	}
	for _, query := range tests {
		name := query
		if len(name) > 20 {
			name = name[:20]
		}
		t.Run(name, func(t *testing.T) {
			plan, err := Parse(query, tok)
			assert.Nil(t, plan)
			assert.ErrorIs(t, err, apperrors.ErrInvalidQuery)
		})
	}
}

func TestParseWordsWithoutTokensYieldEmptyPlan(t *testing.T) {
	plan, err := Parse("!!! ???", tok)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestParseUsesTokenizerStrategy(t *testing.T) {
	plan, err := Parse("Indexing the documents", &tokenizer.Stemming{MinLength: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"index", "document"}, plan.Terms)
}

func TestLookupTerms(t *testing.T) {
	plan, err := Parse("a b -c", tok)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, plan.LookupTerms())
	assert.Equal(t, "OR", plan.Type.String())
}
