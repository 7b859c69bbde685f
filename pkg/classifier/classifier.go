// Package classifier rates shell commands by how much damage they could do
// before an agent runs them. Commands are split into simple commands with a
// real shell parser and scored against a weighted rule table.
package classifier

import (
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"mvdan.cc/sh/v3/syntax"
)

// Level is the coarse risk bucket derived from a score.
type Level string

// Risk levels, ordered from least to most dangerous
const (
	LevelSafe     Level = "safe"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

const (
	maxScore = 100
	// weights of every non-sudo match are multiplied by sudoNum/sudoDen when
	// any part of the command is elevated
	sudoNum = 3
	sudoDen = 2
)

var levelRank = map[Level]int{
	LevelSafe:     0,
	LevelLow:      1,
	LevelMedium:   2,
	LevelHigh:     3,
	LevelCritical: 4,
}

// LevelForScore maps a 0-100 score to its level.
func LevelForScore(score int) Level {
	switch {
	case score <= 0:
		return LevelSafe
	case score < 20:
		return LevelLow
	case score < 50:
		return LevelMedium
	case score < 80:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelRank[l]; !ok {
		return "", errors.Errorf("unknown risk level %q", s)
	}
	return l, nil
}

// AtLeast reports whether l is as risky as other or more.
func (l Level) AtLeast(other Level) bool {
	return levelRank[l] >= levelRank[other]
}

// Match is one rule that fired.
type Match struct {
	RuleID      string   `json:"rule_id"`
	Category    Category `json:"category"`
	Weight      int      `json:"weight"`
	Description string   `json:"description"`
	Subcommand  string   `json:"subcommand,omitempty"`
}

// Assessment is the result of classifying a command.
type Assessment struct {
	Command     string   `json:"command"`
	Score       int      `json:"score"`
	Level       Level    `json:"level"`
	Matches     []Match  `json:"matches"`
	Subcommands []string `json:"subcommands"`
	Elevated    bool     `json:"elevated"`
	Reason      string   `json:"reason,omitempty"`
}

// Classifier scores commands against a rule table plus user allow/deny globs.
type Classifier struct {
	rules    []Rule
	allow    []glob.Glob
	deny     []glob.Glob
	allowRaw []string
	denyRaw  []string
}

// Option configures a Classifier.
type Option func(*Classifier) error

// WithRules replaces the built-in rule table.
func WithRules(rules []Rule) Option {
	return func(c *Classifier) error {
		c.rules = rules
		return nil
	}
}

// WithAllow adds glob patterns for commands that are always safe.
func WithAllow(patterns ...string) Option {
	return func(c *Classifier) error {
		for _, p := range patterns {
			g, err := glob.Compile(p)
			if err != nil {
				return errors.Wrapf(err, "invalid allow pattern %q", p)
			}
			c.allow = append(c.allow, g)
			c.allowRaw = append(c.allowRaw, p)
		}
		return nil
	}
}

// WithDeny adds glob patterns for commands that are always critical.
func WithDeny(patterns ...string) Option {
	return func(c *Classifier) error {
		for _, p := range patterns {
			g, err := glob.Compile(p)
			if err != nil {
				return errors.Wrapf(err, "invalid deny pattern %q", p)
			}
			c.deny = append(c.deny, g)
			c.denyRaw = append(c.denyRaw, p)
		}
		return nil
	}
}

// New creates a Classifier using DefaultRules unless overridden.
func New(opts ...Option) (*Classifier, error) {
	c := &Classifier{rules: DefaultRules}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is New for static configurations.
func MustNew(opts ...Option) *Classifier {
	c, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Classify scores a command line.
func (c *Classifier) Classify(command string) Assessment {
	command = strings.TrimSpace(command)
	a := Assessment{Command: command, Level: LevelSafe, Matches: []Match{}}
	if command == "" {
		return a
	}

	cmds := parseCommands(command, 0)
	subs := make([]string, len(cmds))
	normalized := make([]string, len(cmds))
	for i, sc := range cmds {
		words, elevated := normalize(sc.words)
		subs[i] = sc.text
		normalized[i] = strings.Join(words, " ")
		a.Elevated = a.Elevated || elevated
	}
	a.Subcommands = subs

	if pattern, sub, ok := matchDeny(c.deny, c.denyRaw, command, subs, normalized); ok {
		a.Score = maxScore
		a.Level = LevelCritical
		a.Matches = append(a.Matches, Match{
			RuleID:      "deny-list",
			Category:    CategoryPolicy,
			Weight:      maxScore,
			Description: "matches deny pattern " + pattern,
			Subcommand:  sub,
		})
		a.Reason = a.Matches[0].Description
		return a
	}

	if patterns, ok := matchAllow(c.allow, c.allowRaw, subs, normalized); ok {
		a.Reason = "matches allow pattern " + strings.Join(patterns, ", ")
		return a
	}

	base, elevatedWeight := 0, 0
	for _, r := range c.rules {
		m, ok := matchRule(r, command, subs, normalized)
		if !ok {
			continue
		}
		a.Matches = append(a.Matches, m)
		if r.ID == "sudo" {
			base += r.Weight
			continue
		}
		elevatedWeight += r.Weight
	}

	if a.Elevated {
		elevatedWeight = elevatedWeight * sudoNum / sudoDen
	}
	a.Score = min(base+elevatedWeight, maxScore)
	a.Level = LevelForScore(a.Score)

	sort.SliceStable(a.Matches, func(i, j int) bool {
		return a.Matches[i].Weight > a.Matches[j].Weight
	})
	descs := make([]string, 0, len(a.Matches))
	for _, m := range a.Matches {
		descs = append(descs, m.Description)
	}
	a.Reason = strings.Join(descs, "; ")

	return a
}

func matchRule(r Rule, command string, subs, normalized []string) (Match, bool) {
	m := Match{RuleID: r.ID, Category: r.Category, Weight: r.Weight, Description: r.Description}
	if r.Scope == ScopeFull {
		return m, r.Pattern.MatchString(command)
	}
	for i, s := range normalized {
		if r.Pattern.MatchString(s) {
			m.Subcommand = subs[i]
			return m, true
		}
	}
	return m, false
}

// matchDeny reports the first deny pattern matching the whole command or any
// simple command, as written or normalized.
func matchDeny(globs []glob.Glob, raw []string, command string, subs, normalized []string) (string, string, bool) {
	for i, g := range globs {
		if g.Match(command) {
			return raw[i], "", true
		}
		for j := range subs {
			if g.Match(subs[j]) || g.Match(normalized[j]) {
				return raw[i], subs[j], true
			}
		}
	}
	return "", "", false
}

// matchAllow succeeds only when every simple command matches some allow
// pattern. It returns the patterns used.
func matchAllow(globs []glob.Glob, raw []string, subs, normalized []string) ([]string, bool) {
	if len(globs) == 0 || len(subs) == 0 {
		return nil, false
	}
	var used []string
	for j := range subs {
		matched := -1
		for i, g := range globs {
			if g.Match(subs[j]) || g.Match(normalized[j]) {
				matched = i
				break
			}
		}
		if matched < 0 {
			return nil, false
		}
		if !slices.Contains(used, raw[matched]) {
			used = append(used, raw[matched])
		}
	}
	return used, true
}

// Flags that consume the following word, per wrapper command.
var wrapperValueFlags = map[string]map[string]bool{
	"sudo":    {"-u": true, "-g": true, "-C": true, "-D": true, "-h": true, "-p": true, "-U": true},
	"doas":    {"-u": true, "-C": true},
	"env":     {"-u": true, "-C": true, "-S": true},
	"nice":    {"-n": true},
	"ionice":  {"-c": true, "-n": true, "-p": true},
	"nohup":   {},
	"command": {},
	"exec":    {"-a": true},
	"time":    {"-o": true, "-f": true},
	"timeout": {"-s": true, "-k": true},
	"xargs":   {"-n": true, "-I": true, "-L": true, "-P": true, "-d": true, "-s": true, "-E": true, "-a": true},
	"stdbuf":  {"-i": true, "-o": true, "-e": true},
}

// normalize strips wrapper commands such as sudo, env and xargs from the
// front of a simple command and reduces the program to its base name, so
// /bin/rm and "env X=1 rm" are rated as rm. It reports whether sudo or doas
// was among the wrappers.
func normalize(words []string) ([]string, bool) {
	elevated := false
	for len(words) > 0 {
		name := filepath.Base(words[0])
		valueFlags, wrapper := wrapperValueFlags[name]
		if !wrapper {
			out := append([]string{name}, words[1:]...)
			return out, elevated
		}
		if name == "sudo" || name == "doas" {
			elevated = true
		}

		i := 1
		for i < len(words) && strings.HasPrefix(words[i], "-") {
			if words[i] == "--" {
				i++
				break
			}
			if valueFlags[words[i]] {
				i++
			}
			i++
		}
		switch name {
		case "env":
			for i < len(words) && strings.Index(words[i], "=") > 0 {
				i++
			}
		case "timeout":
			// duration
			i++
		}
		if i >= len(words) {
			return nil, elevated
		}
		words = words[i:]
	}
	return words, elevated
}

var shells = map[string]bool{"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true}

// shellPayload returns the script of a "<shell> -c <script>" invocation.
func shellPayload(words []string) (string, bool) {
	words, _ = normalize(words)
	if len(words) < 3 || !shells[words[0]] {
		return "", false
	}
	for i := 1; i < len(words)-1; i++ {
		w := words[i]
		switch {
		case w == "--" || !strings.HasPrefix(w, "-"):
			return "", false
		case strings.HasPrefix(w, "--"):
			continue
		case strings.Contains(w, "c"):
			return words[i+1], true
		}
	}
	return "", false
}

// simpleCommand is one command of a parsed command line.
type simpleCommand struct {
	// text is the command as written
	text string
	// words are the arguments with quoting removed where the word is static
	words []string
}

// nested "sh -c" scripts are followed at most this deep
const maxShellDepth = 3

// Split breaks a command line into its simple commands, including those in
// pipelines, lists, subshells, command substitutions and "sh -c" scripts.
// Unparseable input falls back to splitting on control operators.
func Split(command string) []string {
	cmds := parseCommands(command, 0)
	out := make([]string, len(cmds))
	for i, sc := range cmds {
		out[i] = sc.text
	}
	return out
}

func parseCommands(command string, depth int) []simpleCommand {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return splitFallback(command)
	}

	printer := syntax.NewPrinter(syntax.SingleLine(true))
	var out []simpleCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		// args only: leading assignments and redirects are not the command
		printed := make([]string, 0, len(call.Args))
		words := make([]string, 0, len(call.Args))
		for _, word := range call.Args {
			var sb strings.Builder
			if err := printer.Print(&sb, word); err != nil {
				return true
			}
			printed = append(printed, sb.String())
			if lit, ok := staticWord(word); ok {
				words = append(words, lit)
			} else {
				words = append(words, sb.String())
			}
		}
		out = append(out, simpleCommand{text: strings.Join(printed, " "), words: words})

		if script, ok := shellPayload(words); ok && depth < maxShellDepth {
			out = append(out, parseCommands(script, depth+1)...)
		}
		return true
	})

	if len(out) == 0 {
		return splitFallback(command)
	}
	return out
}

// staticWord returns the unquoted value of a word made only of literals and
// quotes. Words with expansions are not static.
func staticWord(word *syntax.Word) (string, bool) {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(unescape(p.Value))
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, q := range p.Parts {
				lit, ok := q.(*syntax.Lit)
				if !ok {
					return "", false
				}
				sb.WriteString(unescape(lit.Value))
			}
		default:
			return "", false
		}
	}
	return sb.String(), true
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

var fallbackSeparators = regexp.MustCompile(`\|\||&&|[;|\n]`)

func splitFallback(command string) []simpleCommand {
	var out []simpleCommand
	for _, part := range fallbackSeparators.Split(command, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, simpleCommand{text: part, words: strings.Fields(part)})
		}
	}
	return out
}
