package common

import "strings"

const edgePunctuation = ".,;:!?\"'()[]{} "

var fullWidthReplacer = strings.NewReplacer(
	"，", ",", "。", ".", "：", ":", "；", ";", "！", "!", "？", "?",
	"（", "(", "）", ")", "【", "[", "】", "]", "“", "\"", "”", "\"",
	"‘", "'", "’", "'", "、", ",", "　", " ", "－", "-", "～", "~",
)

// CleanText maps full-width punctuation to ASCII and collapses whitespace.
// The original letter case is kept so the result can be shown as a label.
func CleanText(value string) string {
	value = strings.ToValidUTF8(value, "")
	value = strings.ReplaceAll(value, "\x00", "")
	value = fullWidthReplacer.Replace(value)
	return strings.Join(strings.Fields(value), " ")
}

// NormalizeValue produces the comparison key of a surface string: cleaned,
// lower-cased and stripped of leading and trailing punctuation.
func NormalizeValue(value string) string {
	value = strings.ToLower(CleanText(value))
	return strings.Trim(value, edgePunctuation)
}
