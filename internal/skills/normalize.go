package skills

import (
	"strings"
)

// aliases maps synonyms to their canonical token. Every value must already be
// a fixed point of Normalize.
var aliases = map[string]string{
	"k8s":        "kubernetes",
	"golang":     "go",
	"postgres":   "postgresql",
	"psql":       "postgresql",
	"js":         "javascript",
	"ecmascript": "javascript",
	"ts":         "typescript",
	"py":         "python",
	"mongo":      "mongodb",
	"reactjs":    "react",
	"vuejs":      "vue",
	"cicd":       "ci/cd",

	"amazonwebservices":   "aws",
	"googlecloud":         "gcp",
	"googlecloudplatform": "gcp",
}

const (
	leadingPunct  = "(\"'[{"
	trailingPunct = ".,;:!?)(\"'[]{}"
)

// Normalize canonicalizes a free-text skill token for comparison.
// "React.js", "REACT" and "react" all become "react".
func Normalize(raw string) string {
	s := raw
	for {
		next := normalizeStep(s)
		if next == s {
			return s
		}
		s = next
	}
}

func normalizeStep(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimLeft(s, leadingPunct)
	s = strings.TrimRight(s, trailingPunct)

	s = strings.NewReplacer(" ", "", "\t", "", "-", "", "_", "").Replace(s)

	if alias, ok := aliases[s]; ok {
		return alias
	}

	switch {
	case strings.HasSuffix(s, ".js") && len(s) > len(".js"):
		s = strings.TrimSuffix(s, ".js")
	case strings.HasSuffix(s, "js") && len(s) > len("js")+1 && isLetter(s[len(s)-3]):
		s = strings.TrimSuffix(s, "js")
	}

	return s
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z'
}
