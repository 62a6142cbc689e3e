package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxNicknameLength = 32
	fallbackNickname  = "Member"
	hoistPrefixes     = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~￼"
)

// Lookalikes NFKC leaves untouched.
var confusables = map[rune]rune{
	'🄰': 'A',
	'🅞': 'O',
	'🅾': 'O',
	'🅢': 'S',
	'а': 'a',
	'е': 'e',
	'о': 'o',
	'р': 'p',
	'с': 'c',
	'х': 'x',
	'у': 'y',
	'і': 'i',
	'ѕ': 's',
}

var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeName folds stylised and lookalike characters to plain text, drops
// hoisting punctuation from the front and caps the result at 32 characters.
func SanitizeName(name string) string {
	name = norm.NFKC.String(name)
	name = strings.Map(func(r rune) rune {
		if replacement, ok := confusables[r]; ok {
			return replacement
		}
		return r
	}, name)

	if folded, _, err := transform.String(stripMarks, name); err == nil {
		name = folded
	}
	name = strings.Map(func(r rune) rune {
		if !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimLeft(name, hoistPrefixes)
	name = strings.TrimSpace(name)
	if name == "" {
		name = fallbackNickname
	}

	if r := []rune(name); len(r) > maxNicknameLength {
		name = string(r[:maxNicknameLength])
	}
	return name
}
