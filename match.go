package main

import (
	"regexp"
	"strings"
	"unicode"
)

// Guess matching. Guesses and track metadata are reduced to a comparable
// normal form, then compared exactly, by containment, and finally by edit
// distance with a length-scaled typo allowance.

var (
	bracketExpr = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	dashExpr    = regexp.MustCompile(`\s+-\s.*$`)
)

// normalizeText lowercases, strips bracketed annotations ("(Remastered)"),
// strips trailing dash suffixes ("- Live"), drops punctuation, and collapses
// whitespace. Idempotent.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = bracketExpr.ReplaceAllString(s, " ")
	s = dashExpr.ReplaceAllString(s, " ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// editDistance is the classic single-character insert/delete/substitute
// distance, computed over runes with two rolling rows.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}

			min := prev[j] + 1 // deletion
			if ins := curr[j-1] + 1; ins < min {
				min = ins
			}
			if sub := prev[j-1] + cost; sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

func allowedTypos(title string, floor int, tolerance float64) int {
	allowed := int(float64(len([]rune(title))) * tolerance)
	if allowed < floor {
		allowed = floor
	}
	return allowed
}

// matchesTitle reports whether a normalized guess matches a normalized title.
// Rules are evaluated in order, each independently sufficient: exact equality,
// containment in either direction (guesses of length <= 3 excluded), and edit
// distance within the typo allowance.
func matchesTitle(guess, title string, typoFloor int, tolerance float64) bool {
	if guess == "" || title == "" {
		return false
	}

	if guess == title {
		return true
	}

	if len([]rune(guess)) > 2 && (strings.Contains(title, guess) || strings.Contains(guess, title)) {
		return true
	}

	return editDistance(guess, title) <= allowedTypos(title, typoFloor, tolerance)
}
