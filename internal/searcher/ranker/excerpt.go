package ranker

import (
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/config"
)

type ExcerptOptions struct {
	Window   int
	StartTag string
	EndTag   string
	Ellipsis string
}

func DefaultExcerptOptions() ExcerptOptions {
	return ExcerptOptions{Window: 15, StartTag: "<b>", EndTag: "</b>", Ellipsis: "..."}
}

// ExcerptOptionsFrom falls back to the defaults for unset values.
func ExcerptOptionsFrom(cfg config.ExcerptConfig) ExcerptOptions {
	opts := DefaultExcerptOptions()
	if cfg.Window > 0 {
		opts.Window = cfg.Window
	}
	if cfg.StartTag != "" || cfg.EndTag != "" {
		opts.StartTag, opts.EndTag = cfg.StartTag, cfg.EndTag
	}
	if cfg.Ellipsis != "" {
		opts.Ellipsis = cfg.Ellipsis
	}
	return opts
}

// Excerpt returns the window of opts.Window tokens of content holding the
// most query-term occurrences (the earliest such window on ties), with
// matches wrapped in the highlight tags and elided text marked by the
// ellipsis. When nothing matches, the first window of content is returned.
func Excerpt(tok tokenizer.Tokenizer, content string, terms []string, opts ExcerptOptions) string {
	tokens := tok.Tokenize(content)
	if len(tokens) == 0 {
		return ""
	}
	window := opts.Window
	if window <= 0 || window > len(tokens) {
		window = len(tokens)
	}

	wanted := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		wanted[t] = struct{}{}
	}
	matched := make([]bool, len(tokens))
	for i, t := range tokens {
		_, matched[i] = wanted[t.Term]
	}

	count := 0
	for i := 0; i < window; i++ {
		if matched[i] {
			count++
		}
	}
	best, bestStart := count, 0
	for start := 1; start+window <= len(tokens); start++ {
		if matched[start-1] {
			count--
		}
		if matched[start+window-1] {
			count++
		}
		if count > best {
			best, bestStart = count, start
		}
	}

	end := bestStart + window
	var sb strings.Builder
	if bestStart > 0 {
		sb.WriteString(opts.Ellipsis)
	}
	for i := bestStart; i < end; i++ {
		if i > bestStart {
			sb.WriteString(collapseSpace(content[tokens[i-1].End:tokens[i].Start]))
		}
		word := content[tokens[i].Start:tokens[i].End]
		if matched[i] {
			sb.WriteString(opts.StartTag)
			sb.WriteString(word)
			sb.WriteString(opts.EndTag)
		} else {
			sb.WriteString(word)
		}
	}
	if end < len(tokens) {
		sb.WriteString(opts.Ellipsis)
	}
	return sb.String()
}

// collapseSpace replaces every run of whitespace with a single space.
func collapseSpace(s string) string {
	if strings.IndexFunc(s, unicode.IsSpace) < 0 {
		return s
	}
	var sb strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !space {
				sb.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		sb.WriteRune(r)
	}
	return sb.String()
}
