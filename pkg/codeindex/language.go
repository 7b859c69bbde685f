package codeindex

import (
	"path/filepath"
	"regexp"
	"strings"
)

var extensionToLanguage = map[string]string{
	"go":   "go",
	"py":   "python",
	"pyi":  "python",
	"js":   "javascript",
	"jsx":  "javascript",
	"mjs":  "javascript",
	"cjs":  "javascript",
	"ts":   "typescript",
	"tsx":  "typescript",
	"mts":  "typescript",
	"rs":   "rust",
	"java": "java",
}

// DetectLanguage returns the indexed language for path, or "" when files
// of that kind are not indexed.
func DetectLanguage(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	return extensionToLanguage[ext]
}

// Symbol kinds.
const (
	KindFunction  = "function"
	KindMethod    = "method"
	KindClass     = "class"
	KindStruct    = "struct"
	KindInterface = "interface"
	KindType      = "type"
	KindEnum      = "enum"
)

// rule extracts one symbol per matching line. The name is the last
// capture group; when kindGroup is set the kind comes from that group.
type rule struct {
	re        *regexp.Regexp
	kind      string
	kindGroup int
	indented  string // kind to use when the line is indented
}

var (
	jsFunction = rule{re: regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\*?\s+([A-Za-z_$][\w$]*)`), kind: KindFunction}
	jsArrow    = rule{re: regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*(?::[^=]+)?=\s*(?:async\s+)?(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*(?::[^=]+)?=>`), kind: KindFunction}
	jsClass    = rule{re: regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][\w$]*)`), kind: KindClass}
)

var languageRules = map[string][]rule{
	"go": {
		{re: regexp.MustCompile(`^func\s+\([^)]*\)\s*([A-Za-z_]\w*)`), kind: KindMethod},
		{re: regexp.MustCompile(`^func\s+([A-Za-z_]\w*)`), kind: KindFunction},
		{re: regexp.MustCompile(`^\s*type\s+([A-Za-z_]\w*)(?:\[[^\]]*\])?\s+struct\b`), kind: KindStruct},
		{re: regexp.MustCompile(`^\s*type\s+([A-Za-z_]\w*)(?:\[[^\]]*\])?\s+interface\b`), kind: KindInterface},
		{re: regexp.MustCompile(`^\s*type\s+([A-Za-z_]\w*)(?:\[[^\]]*\])?\s+[^=\s]`), kind: KindType},
	},
	"python": {
		{re: regexp.MustCompile(`^\s*class\s+([A-Za-z_]\w*)`), kind: KindClass},
		{re: regexp.MustCompile(`^\s*(?:async\s+)?def\s+([A-Za-z_]\w*)`), kind: KindFunction, indented: KindMethod},
	},
	"javascript": {jsFunction, jsArrow, jsClass},
	"typescript": {
		jsFunction, jsArrow, jsClass,
		{re: regexp.MustCompile(`^\s*(?:export\s+)?(?:declare\s+)?interface\s+([A-Za-z_$][\w$]*)`), kind: KindInterface},
		{re: regexp.MustCompile(`^\s*(?:export\s+)?(?:declare\s+)?type\s+([A-Za-z_$][\w$]*)\s*(?:<[^>]*>)?\s*=`), kind: KindType},
		{re: regexp.MustCompile(`^\s*(?:export\s+)?(?:const\s+)?enum\s+([A-Za-z_$][\w$]*)`), kind: KindEnum},
	},
	"rust": {
		{re: regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?(?:const\s+)?(?:async\s+)?(?:unsafe\s+)?(?:extern\s+"[^"]*"\s+)?fn\s+([A-Za-z_]\w*)`), kind: KindFunction, indented: KindMethod},
		{re: regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?struct\s+([A-Za-z_]\w*)`), kind: KindStruct},
		{re: regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?enum\s+([A-Za-z_]\w*)`), kind: KindEnum},
		{re: regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?(?:unsafe\s+)?trait\s+([A-Za-z_]\w*)`), kind: KindInterface},
		{re: regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?type\s+([A-Za-z_]\w*)`), kind: KindType},
	},
	"java": {
		{re: regexp.MustCompile(`^\s*(?:(?:public|private|protected|abstract|final|static|sealed)\s+)*(class|interface|enum|record)\s+([A-Za-z_]\w*)`), kindGroup: 1},
		{re: regexp.MustCompile(`^\s*(?:(?:public|private|protected|static|final|abstract|synchronized|native|default)\s+)+(?:<[^>]+>\s+)?[\w<>\[\],.?]+\s+([A-Za-z_]\w*)\s*\(`), kind: KindMethod},
	},
}

const maxSignature = 200

// ExtractSymbols scans content line by line. Path and Root are left empty.
func ExtractSymbols(language, content string) []Symbol {
	rules := languageRules[language]
	if len(rules) == 0 {
		return nil
	}

	var symbols []Symbol
	for i, line := range strings.Split(content, "\n") {
		for _, r := range rules {
			m := r.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			kind := r.kind
			if r.kindGroup > 0 {
				kind = m[r.kindGroup]
				if kind == "record" {
					kind = KindClass
				}
			}
			if r.indented != "" && len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
				kind = r.indented
			}
			sig := strings.TrimSpace(line)
			if len(sig) > maxSignature {
				sig = sig[:maxSignature]
			}
			symbols = append(symbols, Symbol{
				Line:      i + 1,
				Kind:      kind,
				Name:      m[len(m)-1],
				Language:  language,
				Signature: sig,
			})
			break
		}
	}
	return symbols
}
