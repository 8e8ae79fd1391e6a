package chunking

import (
	"strings"
)

// DetectLanguage guesses the programming language of unfenced code.
// Fenced blocks never reach this: their tag is authoritative. Returns ""
// when nothing matches.
func DetectLanguage(code string) string {
	trimmed := strings.TrimSpace(code)

	// Shebang wins.
	if strings.HasPrefix(trimmed, "#!") {
		firstLine := trimmed
		if i := strings.IndexByte(trimmed, '\n'); i > 0 {
			firstLine = trimmed[:i]
		}
		switch {
		case strings.Contains(firstLine, "python"):
			return "python"
		case strings.Contains(firstLine, "bash"), strings.Contains(firstLine, "/sh"):
			return "bash"
		case strings.Contains(firstLine, "node"):
			return "javascript"
		case strings.Contains(firstLine, "ruby"):
			return "ruby"
		case strings.Contains(firstLine, "perl"):
			return "perl"
		}
		return "bash"
	}

	type signature struct {
		language string
		keywords []string
	}
	signatures := []signature{
		{"go", []string{"func ", "package ", ":="}},
		{"go", []string{"func ", "error"}},
		{"python", []string{"def ", "self"}},
		{"python", []string{"import ", "print("}},
		{"rust", []string{"fn ", "let mut"}},
		{"java", []string{"public class", "void "}},
		{"javascript", []string{"function ", "const "}},
		{"javascript", []string{"=>", "const "}},
		{"c", []string{"#include", "int main"}},
		{"sql", []string{"select ", " from "}},
		{"sql", []string{"create table"}},
	}

	lower := strings.ToLower(trimmed)
	for _, sig := range signatures {
		matched := true
		for _, kw := range sig.keywords {
			if !strings.Contains(lower, kw) {
				matched = false
				break
			}
		}
		if matched {
			return sig.language
		}
	}
	return ""
}
