// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package quotes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/pdiddy/academic-agent/internal/convert"
	"github.com/pdiddy/academic-agent/pkg/types"
)

var (
	errEmptyQuote = errors.New("empty quote")
	errNotInText  = errors.New("quote not found verbatim in paper text")
)

// Check validates one reply and turns it into a quote. Quotes must be
// non-empty and at most MaxWords long. When text is available the quote
// must occur in it verbatim, modulo case, whitespace, typographic quotes
// and line-end hyphenation; the page is then taken from the text.
func Check(rep Reply, text convert.Text) (types.Quote, error) {
	words := strings.Fields(rep.Text)
	if len(words) == 0 {
		return types.Quote{}, errEmptyQuote
	}
	if len(words) > MaxWords {
		return types.Quote{}, fmt.Errorf("quote has %d words, limit is %d", len(words), MaxWords)
	}
	q := types.Quote{
		Text:      strings.Join(words, " "),
		Page:      rep.Page,
		Context:   rep.Context,
		Relevance: rep.Relevance,
	}
	if text.Empty() {
		return q, nil
	}
	page, surrounding, ok := Locate(text, q.Text)
	if !ok {
		return types.Quote{}, errNotInText
	}
	if text.Paged() {
		q.Page = strconv.Itoa(page)
	}
	if q.Context == "" {
		q.Context = surrounding
	}
	return q, nil
}

// Locate finds quote in text. It returns the 1-based page and up to
// contextWords words of normalized text around the match.
func Locate(text convert.Text, quote string) (page int, context string, ok bool) {
	needle := strings.Fields(normalize(quote))
	if len(needle) == 0 {
		return 0, "", false
	}
	for i, p := range text.Pages {
		hay := strings.Fields(normalize(p))
		at := indexWords(hay, needle)
		if at < 0 {
			continue
		}
		pad := (contextWords - len(needle)) / 2
		pad = max(pad, 0)
		from := max(at-pad, 0)
		to := min(at+len(needle)+pad, len(hay))
		return i + 1, strings.Join(hay[from:to], " "), true
	}
	return 0, "", false
}

var normalizer = strings.NewReplacer(
	"‘", "'", "’", "'", "“", `"`, "”", `"`,
	"–", "-", "—", "-", " ", " ",
	"ﬁ", "fi", "ﬂ", "fl", "ﬀ", "ff",
	"-\n", "", "-\r\n", "",
)

func normalize(s string) string {
	return strings.ToLower(normalizer.Replace(s))
}

// bare strips leading and trailing punctuation from a word.
func bare(w string) string {
	return strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// indexWords returns the index of the first occurrence of needle in hay,
// or -1. Words compare without surrounding punctuation.
func indexWords(hay, needle []string) int {
outer:
	for i := 0; i+len(needle) <= len(hay); i++ {
		for j, w := range needle {
			if bare(hay[i+j]) != bare(w) {
				continue outer
			}
		}
		return i
	}
	return -1
}
