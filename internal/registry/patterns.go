package registry

import (
	"fmt"
	"regexp"
	"strings"
)

// denyPatterns is the static deny list scanned against every string-typed
// argument value: code-execution primitives, filesystem escapes, and
// destructive shell commands. Matching is case-insensitive.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bimport\s+\w`),
	regexp.MustCompile(`\bfrom\s+\w+\s+import\b`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bcompile\s*\(`),
	regexp.MustCompile(`__import__\s*\(`),
	regexp.MustCompile(`\bsubprocess\b`),
	regexp.MustCompile(`\bos\.system\b`),
	regexp.MustCompile(`\.\./`),
	regexp.MustCompile(`\brm\s+-rf?\b`),
	regexp.MustCompile(`\bdel\s+/`),
	regexp.MustCompile(`\bformat\s+[a-z]:`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
}

// scanArgs walks args recursively and rejects any string value matching the
// deny list. Non-string leaves are ignored.
func scanArgs(tool string, args map[string]any) error {
	for key, val := range args {
		if err := scanValue(tool, key, val); err != nil {
			return err
		}
	}
	return nil
}

func scanValue(tool, field string, val any) error {
	switch v := val.(type) {
	case string:
		lower := strings.ToLower(v)
		for _, re := range denyPatterns {
			if re.MatchString(lower) {
				return &DangerousPatternError{Tool: tool, Field: field, Pattern: re.String()}
			}
		}
	case []any:
		for i, item := range v {
			if err := scanValue(tool, fmt.Sprintf("%s[%d]", field, i), item); err != nil {
				return err
			}
		}
	case map[string]any:
		for key, item := range v {
			if err := scanValue(tool, field+"."+key, item); err != nil {
				return err
			}
		}
	}
	return nil
}
