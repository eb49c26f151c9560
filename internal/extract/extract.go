// Package extract implements the labeled-field scanner for profile
// submissions.
//
// Users are asked to send their data as five segments introduced by circled
// number markers (①〜⑤). The scanner is best effort: absent markers yield
// empty fields, and arbitrary unstructured input never produces an error.
package extract

import (
	"strings"

	"github.com/hoshiyomi/uranaibot/internal/models"
)

// markers lists the field markers in declaration order: name, birth date,
// birth time, personality type, gender.
var markers = []rune{'①', '②', '③', '④', '⑤'}

// fieldLabels are the echoed label prefixes stripped from each segment when
// a user copies the instruction template back verbatim.
var fieldLabels = [][]string{
	{"名前", "お名前", "氏名"},
	{"生年月日", "誕生日"},
	{"出生時間", "生まれた時間", "出生時刻"},
	{"MBTI", "mbti", "性格タイプ"},
	{"性別"},
}

// Japanese display labels for the required fields, used in guidance messages.
const (
	LabelName      = "名前"
	LabelBirthDate = "生年月日"
	LabelGender    = "性別"
)

// Fields holds the extracted profile segments. Empty string means the
// marker was absent or carried no value.
type Fields struct {
	Name      string
	BirthDate string
	BirthTime string
	MBTI      string
	Gender    string
}

// HasAnyMarker reports whether the text contains at least one circled
// number marker. Input without any marker is treated as unrelated chatter
// and gets no response.
func HasAnyMarker(text string) bool {
	for _, m := range markers {
		if strings.ContainsRune(text, m) {
			return true
		}
	}
	return false
}

// ExtractProfileFields scans raw text for the five labeled segments. Each
// segment's value is the text following its marker up to the next marker or
// end of string, trimmed of whitespace, separator colons (full-width or
// half-width), and echoed label text.
func ExtractProfileFields(text string) Fields {
	runes := []rune(text)

	// Locate the first occurrence of each marker.
	positions := make([]int, len(markers))
	for i := range positions {
		positions[i] = -1
	}
	for pos, r := range runes {
		for i, m := range markers {
			if r == m && positions[i] == -1 {
				positions[i] = pos
			}
		}
	}

	values := make([]string, len(markers))
	for i, start := range positions {
		if start == -1 {
			continue
		}
		end := len(runes)
		for j, other := range positions {
			if j == i || other == -1 {
				continue
			}
			if other > start && other < end {
				end = other
			}
		}
		values[i] = cleanSegment(string(runes[start+1:end]), fieldLabels[i])
	}

	return Fields{
		Name:      values[0],
		BirthDate: values[1],
		BirthTime: values[2],
		MBTI:      values[3],
		Gender:    values[4],
	}
}

// cleanSegment trims a raw segment and strips an echoed label with its
// optional colon separator.
func cleanSegment(s string, labels []string) string {
	s = strings.TrimSpace(s)
	s = trimSeparator(s)
	for _, label := range labels {
		if rest, ok := cutPrefixFold(s, label); ok {
			s = trimSeparator(strings.TrimSpace(rest))
			break
		}
	}
	return strings.TrimSpace(s)
}

// trimSeparator removes a leading colon in either width, plus surrounding
// whitespace.
func trimSeparator(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "：")
	s = strings.TrimPrefix(s, ":")
	return strings.TrimSpace(s)
}

// cutPrefixFold is strings.CutPrefix with ASCII case folding, so "mbti" and
// "MBTI" both match.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) {
		return s, false
	}
	if strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

// MissingRequired returns display labels for absent required fields.
// Name, birth date, and gender are required; birth time and MBTI are not.
func (f Fields) MissingRequired() []string {
	var missing []string
	if f.Name == "" {
		missing = append(missing, LabelName)
	}
	if f.BirthDate == "" {
		missing = append(missing, LabelBirthDate)
	}
	if f.Gender == "" {
		missing = append(missing, LabelGender)
	}
	return missing
}

// Complete reports whether all required fields are present.
func (f Fields) Complete() bool {
	return len(f.MissingRequired()) == 0
}

// ToProfile converts extracted fields into a profile record.
func (f Fields) ToProfile() models.Profile {
	return models.Profile{
		Name:      f.Name,
		BirthDate: f.BirthDate,
		BirthTime: f.BirthTime,
		MBTI:      f.MBTI,
		Gender:    f.Gender,
	}
}
