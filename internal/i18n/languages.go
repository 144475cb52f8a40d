package i18n

import "strings"

var languageNames = map[string]string{
	"en": "English",
	"ru": "Русский",
	"uk": "Українська",
}

// GetLanguageName returns the native name of the language code.
func GetLanguageName(code string) string {
	normalized := strings.ToLower(code)
	if name, ok := languageNames[normalized]; ok {
		return name
	}
	return code
}

// DescribeLanguages renders "code (Name)" pairs for command replies.
func DescribeLanguages(codes []string) string {
	res := make([]string, 0, len(codes))
	for _, code := range codes {
		res = append(res, code+" ("+GetLanguageName(code)+")")
	}
	return strings.Join(res, ", ")
}
