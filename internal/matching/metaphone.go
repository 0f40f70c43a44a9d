package matching

import "strings"

// phoneticCodes produces a primary and an alternate phonetic code for an
// already-normalized name (uppercase, [A-Z0-9 ] only). The encoding follows
// the double-metaphone family: consonants collapse into coarse sound
// classes, vowels survive only in initial position, and letters with
// ambiguous pronunciation (soft C/G, CH, J, TH) contribute different sounds
// to the primary and alternate codes. Codes are capped at maxLen runes.
func phoneticCodes(name string, maxLen int) (string, string) {
	var primary, alternate strings.Builder

	for _, word := range strings.Fields(name) {
		encodeWord(word, &primary, &alternate, maxLen)
		if primary.Len() >= maxLen && alternate.Len() >= maxLen {
			break
		}
	}

	p := primary.String()
	a := alternate.String()
	if len(p) > maxLen {
		p = p[:maxLen]
	}
	if len(a) > maxLen {
		a = a[:maxLen]
	}
	return p, a
}

func encodeWord(w string, primary, alternate *strings.Builder, maxLen int) {
	r := []rune(w)
	n := len(r)
	if n == 0 {
		return
	}

	i := 0

	// Initial-letter exceptions: silent leading consonants and the
	// X- → S- class.
	switch {
	case n > 1 && (hasPrefix(r, "KN") || hasPrefix(r, "GN") || hasPrefix(r, "PN") || hasPrefix(r, "WR") || hasPrefix(r, "AE")):
		i = 1
	case r[0] == 'X':
		emit(primary, alternate, "S", "S", maxLen)
		i = 1
	case hasPrefix(r, "WH"):
		emit(primary, alternate, "W", "W", maxLen)
		i = 2
	}

	for i < n {
		if primary.Len() >= maxLen && alternate.Len() >= maxLen {
			return
		}

		c := r[i]

		// Collapse doubled letters, except C (handled by its own rules).
		if i > 0 && c == r[i-1] && c != 'C' {
			i++
			continue
		}

		switch c {
		case 'A', 'E', 'I', 'O', 'U':
			if i == 0 {
				emit(primary, alternate, "A", "A", maxLen)
			}
			i++

		case 'B':
			// Final -MB keeps only the M.
			if !(i == n-1 && i > 0 && r[i-1] == 'M') {
				emit(primary, alternate, "P", "P", maxLen)
			}
			i++

		case 'C':
			switch {
			case followedBy(r, i, "IA"):
				emit(primary, alternate, "X", "X", maxLen)
				i++
			case followedBy(r, i, "H"):
				// CH: "church" vs "character", the classic
				// primary/alternate split.
				emit(primary, alternate, "X", "K", maxLen)
				i += 2
			case followedByAny(r, i, 'I', 'E', 'Y'):
				emit(primary, alternate, "S", "S", maxLen)
				i++
			default:
				emit(primary, alternate, "K", "K", maxLen)
				i++
				// Skip CK, CC, CQ doubles.
				if i < n && (r[i] == 'K' || r[i] == 'C' || r[i] == 'Q') {
					i++
				}
			}

		case 'D':
			if followedBy(r, i, "GE") || followedBy(r, i, "GY") || followedBy(r, i, "GI") {
				emit(primary, alternate, "J", "J", maxLen)
				i += 2
			} else {
				emit(primary, alternate, "T", "T", maxLen)
				i++
			}

		case 'F':
			emit(primary, alternate, "F", "F", maxLen)
			i++

		case 'G':
			switch {
			case followedBy(r, i, "H"):
				// GH: silent unless word-initial ("ghost").
				if i == 0 {
					emit(primary, alternate, "K", "K", maxLen)
				}
				i += 2
			case followedBy(r, i, "N"):
				emit(primary, alternate, "N", "N", maxLen)
				i += 2
			case followedByAny(r, i, 'I', 'E', 'Y'):
				// Soft G: "George" primary J, alternate K ("Gert").
				emit(primary, alternate, "J", "K", maxLen)
				i++
			default:
				emit(primary, alternate, "K", "K", maxLen)
				i++
			}

		case 'H':
			// H survives only between vowels.
			if i > 0 && isVowel(r[i-1]) && i+1 < n && isVowel(r[i+1]) {
				emit(primary, alternate, "H", "H", maxLen)
			}
			i++

		case 'J':
			// "John" vs Spanish "Jose".
			emit(primary, alternate, "J", "H", maxLen)
			i++

		case 'K':
			if !(i > 0 && r[i-1] == 'C') {
				emit(primary, alternate, "K", "K", maxLen)
			}
			i++

		case 'L', 'M', 'N', 'R':
			emit(primary, alternate, string(c), string(c), maxLen)
			i++

		case 'P':
			if followedBy(r, i, "H") {
				emit(primary, alternate, "F", "F", maxLen)
				i += 2
			} else {
				emit(primary, alternate, "P", "P", maxLen)
				i++
			}

		case 'Q':
			emit(primary, alternate, "K", "K", maxLen)
			i++

		case 'S':
			switch {
			case followedBy(r, i, "H"):
				emit(primary, alternate, "X", "X", maxLen)
				i += 2
			case followedBy(r, i, "IO") || followedBy(r, i, "IA"):
				// "-sion" / "-sia": primary SH, alternate S.
				emit(primary, alternate, "X", "S", maxLen)
				i++
			default:
				emit(primary, alternate, "S", "S", maxLen)
				i++
			}

		case 'T':
			switch {
			case followedBy(r, i, "IO") || followedBy(r, i, "IA"):
				emit(primary, alternate, "X", "X", maxLen)
				i++
			case followedBy(r, i, "H"):
				// TH: primary the fricative class, alternate T
				// ("Thomas").
				emit(primary, alternate, "0", "T", maxLen)
				i += 2
			default:
				emit(primary, alternate, "T", "T", maxLen)
				i++
			}

		case 'V':
			emit(primary, alternate, "F", "F", maxLen)
			i++

		case 'W':
			if i+1 < n && isVowel(r[i+1]) {
				emit(primary, alternate, "W", "W", maxLen)
			}
			i++

		case 'X':
			emit(primary, alternate, "KS", "KS", maxLen)
			i++

		case 'Y':
			if i+1 < n && isVowel(r[i+1]) {
				emit(primary, alternate, "Y", "Y", maxLen)
			}
			i++

		case 'Z':
			emit(primary, alternate, "S", "S", maxLen)
			i++

		default:
			// Digits pass through unchanged; anything else was already
			// stripped by normalization.
			if c >= '0' && c <= '9' {
				emit(primary, alternate, string(c), string(c), maxLen)
			}
			i++
		}
	}
}

func emit(primary, alternate *strings.Builder, p, a string, maxLen int) {
	if primary.Len() < maxLen {
		primary.WriteString(p)
	}
	if alternate.Len() < maxLen {
		alternate.WriteString(a)
	}
}

func isVowel(c rune) bool {
	return c == 'A' || c == 'E' || c == 'I' || c == 'O' || c == 'U'
}

func hasPrefix(r []rune, prefix string) bool {
	if len(r) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if r[i] != p {
			return false
		}
	}
	return true
}

// followedBy reports whether the runes after position i spell suffix.
func followedBy(r []rune, i int, suffix string) bool {
	if i+1+len(suffix) > len(r) {
		return false
	}
	for j, s := range suffix {
		if r[i+1+j] != s {
			return false
		}
	}
	return true
}

func followedByAny(r []rune, i int, chars ...rune) bool {
	if i+1 >= len(r) {
		return false
	}
	for _, c := range chars {
		if r[i+1] == c {
			return true
		}
	}
	return false
}
