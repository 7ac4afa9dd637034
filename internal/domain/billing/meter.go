package billing

import (
	"strings"
	"unicode"
)

// CountWords counts billable words in a chat message. URLs and tokens made
// up entirely of emoji/pictographic glyphs do not count.
func CountWords(text string) int64 {
	var count int64
	for _, token := range strings.Fields(text) {
		if isURL(token) || isEmojiToken(token) {
			continue
		}
		count++
	}
	return count
}

// BucketsFor converts a word count into billable buckets. Any started
// bucket is billed in full.
func BucketsFor(words int64, bucketWords int) int64 {
	if words <= 0 || bucketWords <= 0 {
		return 0
	}
	return (words + int64(bucketWords) - 1) / int64(bucketWords)
}

// MinutesFor converts elapsed call seconds into billable minutes. Any
// started minute is billed in full.
func MinutesFor(elapsedSeconds int64) int64 {
	if elapsedSeconds <= 0 {
		return 0
	}
	return (elapsedSeconds + 59) / 60
}

func isURL(token string) bool {
	lower := strings.ToLower(token)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "www.")
}

// isEmojiToken reports whether every rune in the token is a pictograph or
// an emoji support character (joiners, selectors, skin-tone modifiers).
func isEmojiToken(token string) bool {
	sawEmoji := false
	for _, r := range token {
		switch {
		case isPictograph(r):
			sawEmoji = true
		case isEmojiSupport(r):
			// joiners and modifiers never count on their own
		default:
			return false
		}
	}
	return sawEmoji
}

func isPictograph(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF: // symbols, emoticons, transport, supplemental
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicators (flags)
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r == 0x2B50 || r == 0x2B55:
		return true
	case unicode.Is(unicode.So, r):
		return true
	}
	return false
}

func isEmojiSupport(r rune) bool {
	switch {
	case r == 0x200D: // zero-width joiner
		return true
	case r >= 0xFE00 && r <= 0xFE0F: // variation selectors
		return true
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tone modifiers
		return true
	case r == 0x20E3: // combining enclosing keycap
		return true
	}
	return false
}
