package server

import (
	"strings"
	"unicode"
)

// ParseCommandLine splits one control line into its command token and the
// untouched remainder after the first space. Surrounding whitespace and
// control characters (CR, LF, NUL padding) are stripped first. The command
// token keeps its case; params is "" when absent.
func ParseCommandLine(line string) (command, params string) {
	line = strings.TrimFunc(line, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
	if line == "" {
		return "", ""
	}
	command, params, _ = strings.Cut(line, " ")
	return command, params
}
