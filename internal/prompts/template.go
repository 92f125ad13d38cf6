package prompts

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// variablePattern matches placeholders like {{DEVICE_STRUCTURE}}.
var variablePattern = regexp.MustCompile(`\{\{\s*([A-Z][A-Z0-9_]*)\s*\}\}`)

// ExtractVariables extracts placeholder names from a template string.
// For example, "A {{DEVICE_STRUCTURE}} B {{X}}" returns ["DEVICE_STRUCTURE", "X"].
func ExtractVariables(text string) []string {
	matches := variablePattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool)
	var vars []string

	for _, match := range matches {
		if len(match) > 1 {
			varName := match[1]
			if !seen[varName] {
				seen[varName] = true
				vars = append(vars, varName)
			}
		}
	}

	sort.Strings(vars)
	return vars
}

// HashText returns a SHA256 hash of the text for change detection.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// EscapeNewlines turns real newlines into the two-character sequence \n.
func EscapeNewlines(text string) string {
	return strings.ReplaceAll(text, "\n", `\n`)
}

func replaceAll(text, placeholder, value string) string {
	return strings.ReplaceAll(text, placeholder, value)
}
