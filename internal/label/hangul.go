package label

import "strings"

// Precomposed Hangul syllables are laid out as
// 0xAC00 + (lead*21 + vowel)*28 + tail.
const (
	syllableFirst = 0xAC00
	syllableLast  = 0xD7A3
	vowelCount    = 21
	tailCount     = 28
)

var (
	leads  = []rune("ㄱㄲㄴㄷㄸㄹㅁㅂㅃㅅㅆㅇㅈㅉㅊㅋㅌㅍㅎ")
	vowels = []rune("ㅏㅐㅑㅒㅓㅔㅕㅖㅗㅘㅙㅚㅛㅜㅝㅞㅟㅠㅡㅢㅣ")
	// tails[0] is the empty tail.
	tails = []rune("\x00ㄱㄲㄳㄴㄵㄶㄷㄹㄺㄻㄼㄽㄾㄿㅀㅁㅂㅄㅅㅆㅇㅈㅊㅋㅌㅍㅎ")
)

// dubeolsik maps compatibility jamo to the Latin keys that type them on
// the two-set layout. Compound jamo take two keys.
var dubeolsik = map[rune]string{
	'ㄱ': "r", 'ㄲ': "R", 'ㄳ': "rt", 'ㄴ': "s", 'ㄵ': "sw",
	'ㄶ': "sg", 'ㄷ': "e", 'ㄸ': "E", 'ㄹ': "f", 'ㄺ': "fr",
	'ㄻ': "fa", 'ㄼ': "fq", 'ㄽ': "ft", 'ㄾ': "fx", 'ㄿ': "fv",
	'ㅀ': "fg", 'ㅁ': "a", 'ㅂ': "q", 'ㅄ': "qt", 'ㅃ': "Q",
	'ㅅ': "t", 'ㅆ': "T", 'ㅇ': "d", 'ㅈ': "w", 'ㅉ': "W",
	'ㅊ': "c", 'ㅋ': "z", 'ㅌ': "x", 'ㅍ': "v", 'ㅎ': "g",

	'ㅏ': "k", 'ㅐ': "o", 'ㅑ': "i", 'ㅒ': "O", 'ㅓ': "j",
	'ㅔ': "p", 'ㅕ': "u", 'ㅖ': "P", 'ㅗ': "h", 'ㅘ': "hk",
	'ㅙ': "ho", 'ㅚ': "hl", 'ㅛ': "y", 'ㅜ': "n", 'ㅝ': "nj",
	'ㅞ': "np", 'ㅟ': "nl", 'ㅠ': "b", 'ㅡ': "m", 'ㅢ': "ml",
	'ㅣ': "l",
}

// Decompose splits precomposed syllables into compatibility jamo. Other
// runes pass through.
func Decompose(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r < syllableFirst || r > syllableLast {
			b.WriteRune(r)
			continue
		}
		i := int(r - syllableFirst)
		b.WriteRune(leads[i/(vowelCount*tailCount)])
		b.WriteRune(vowels[i%(vowelCount*tailCount)/tailCount])
		if t := i % tailCount; t != 0 {
			b.WriteRune(tails[t])
		}
	}
	return b.String()
}

// Keystrokes returns the Latin keys that type text on the two-set Hangul
// layout, e.g. "안녕" becomes "dkssud". Runes that are not Hangul pass
// through unchanged.
func Keystrokes(text string) string {
	var b strings.Builder
	for _, r := range Decompose(text) {
		if keys, ok := dubeolsik[r]; ok {
			b.WriteString(keys)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Produce returns the first key in order whose Latin labels produce ch,
// and whether shift must be held for it. Caps lock inverts the shift
// need for letters.
func (r *Resolver) Produce(ch string, order []string) (id string, shift, ok bool) {
	invert := r.caps && isAlpha(ch)
	for _, id := range order {
		l, found := r.Lookup(id)
		if !found {
			continue
		}
		switch ch {
		case l.Base:
			return id, invert, true
		case l.Shift:
			return id, !invert, true
		}
	}
	return "", false, false
}
