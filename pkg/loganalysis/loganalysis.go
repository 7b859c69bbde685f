// Package loganalysis summarizes log files: level counts, the most frequent
// error messages and the covered time range. It understands JSON lines,
// logfmt style lines (level=... msg=...) and free text with a level token.
package loganalysis

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jingkaihe/skillbox/pkg/logger"
)

// DefaultTop is the number of error messages reported when Options.Top is 0.
const DefaultTop = 10

const maxLineSize = 1024 * 1024

// Entry is one parsed log line.
type Entry struct {
	Time    time.Time
	Level   string
	Message string
}

// Options filter the analyzed lines.
type Options struct {
	Top   int
	Level string // only count lines at this level
	Grep  string // only count lines matching this regular expression
	Since time.Time
}

// MessageCount is a normalized message and how often it occurred.
type MessageCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
	Example string `json:"example"`
}

// Report is the result of an analysis.
type Report struct {
	Files     []string       `json:"files,omitempty"`
	Lines     int            `json:"lines"`
	Matched   int            `json:"matched"`
	Levels    map[string]int `json:"levels"`
	TopErrors []MessageCount `json:"top_errors"`
	First     *time.Time     `json:"first,omitempty"`
	Last      *time.Time     `json:"last,omitempty"`

	errors map[string]*MessageCount
}

var (
	levelTokenRe = regexp.MustCompile(`(?i)\b(trace|debug|info|warn|warning|error|err|fatal|critical|crit|panic)\b`)
	logfmtRe     = regexp.MustCompile(`(\w+)=("(?:[^"\\]|\\.)*"|\S+)`)
	leadingTSRe  = regexp.MustCompile(`^\[?(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?)\]?\s*`)

	uuidRe   = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	hexRe    = regexp.MustCompile(`(?i)\b(?:0x[0-9a-f]+|[0-9a-f]*\d[0-9a-f]*[a-f][0-9a-f]*|[0-9a-f]*[a-f][0-9a-f]*\d[0-9a-f]*)\b`)
	numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05,999",
}

// NormalizeLevel maps level spellings onto logrus level names. Unknown
// values return "".
func NormalizeLevel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "err":
		return logrus.ErrorLevel.String()
	case "crit", "critical":
		return logrus.FatalLevel.String()
	}
	lvl, err := logrus.ParseLevel(s)
	if err != nil {
		return ""
	}
	return lvl.String()
}

func isErrorLevel(level string) bool {
	switch level {
	case "error", "fatal", "panic":
		return true
	}
	return false
}

// Normalize collapses uuids, hex ids and numbers so that messages differing
// only in identifiers group together.
func Normalize(msg string) string {
	msg = uuidRe.ReplaceAllString(msg, "<uuid>")
	msg = hexRe.ReplaceAllStringFunc(msg, func(s string) string {
		if len(s) < 6 && !strings.HasPrefix(strings.ToLower(s), "0x") {
			return s
		}
		return "<hex>"
	})
	msg = numberRe.ReplaceAllString(msg, "<n>")
	return strings.Join(strings.Fields(msg), " ")
}

func parseTime(s string) (time.Time, bool) {
	s = strings.Trim(s, `"[]`)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseLine extracts time, level and message from a single line.
func ParseLine(line string) Entry {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "{") {
		if e, ok := parseJSON(line); ok {
			return e
		}
	}
	if e, ok := parseLogfmt(line); ok {
		return e
	}

	var e Entry
	rest := line
	if m := leadingTSRe.FindStringSubmatch(rest); m != nil {
		if t, ok := parseTime(strings.Replace(m[1], ",", ".", 1)); ok {
			e.Time = t
		}
		rest = rest[len(m[0]):]
	}
	if loc := levelTokenRe.FindStringSubmatchIndex(rest); loc != nil {
		e.Level = NormalizeLevel(rest[loc[2]:loc[3]])
		rest = rest[loc[1]:]
	}
	e.Message = strings.TrimSpace(strings.TrimLeft(rest, "]:|- "))
	return e
}

func parseJSON(line string) (Entry, bool) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return Entry{}, false
	}

	var e Entry
	for _, k := range []string{"level", "lvl", "severity", "logLevel", "log_level"} {
		if v, ok := fields[k].(string); ok {
			e.Level = NormalizeLevel(v)
			break
		}
	}
	for _, k := range []string{"msg", "message", "error", "err"} {
		if v, ok := fields[k].(string); ok {
			e.Message = v
			break
		}
	}
	for _, k := range []string{"time", "ts", "timestamp", "@timestamp"} {
		switch v := fields[k].(type) {
		case string:
			if t, ok := parseTime(v); ok {
				e.Time = t
			}
		case float64:
			sec := int64(v)
			e.Time = time.Unix(sec, int64((v-float64(sec))*1e9)).UTC()
		}
		if !e.Time.IsZero() {
			break
		}
	}
	return e, true
}

func parseLogfmt(line string) (Entry, bool) {
	pairs := logfmtRe.FindAllStringSubmatch(line, -1)
	var e Entry
	found := false
	for _, p := range pairs {
		value := p[2]
		if strings.HasPrefix(value, `"`) {
			value = strings.ReplaceAll(strings.Trim(value, `"`), `\"`, `"`)
		}
		switch p[1] {
		case "level", "lvl":
			e.Level = NormalizeLevel(value)
			found = true
		case "msg", "message":
			e.Message = value
		case "time", "ts":
			if t, ok := parseTime(value); ok {
				e.Time = t
			}
		}
	}
	return e, found
}

// Analyze reads r line by line and returns its report.
func Analyze(r io.Reader, opts Options) (*Report, error) {
	rep := newReport()
	if err := rep.consume(r, opts); err != nil {
		return nil, err
	}
	rep.finish(opts.Top)
	return rep, nil
}

// AnalyzeFiles merges the reports of several files.
func AnalyzeFiles(ctx context.Context, paths []string, opts Options) (*Report, error) {
	rep := newReport()
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %s", path)
		}
		err = rep.consume(f, opts)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", path)
		}
		rep.Files = append(rep.Files, path)
		logger.G(ctx).WithField("file", path).WithField("lines", rep.Lines).Debug("analyzed log file")
	}
	rep.finish(opts.Top)
	return rep, nil
}

func newReport() *Report {
	return &Report{Levels: map[string]int{}, errors: map[string]*MessageCount{}}
}

func (rep *Report) consume(r io.Reader, opts Options) error {
	var grep *regexp.Regexp
	if opts.Grep != "" {
		var err error
		if grep, err = regexp.Compile(opts.Grep); err != nil {
			return errors.Wrapf(err, "invalid pattern %q", opts.Grep)
		}
	}
	level := ""
	if opts.Level != "" {
		if level = NormalizeLevel(opts.Level); level == "" {
			return errors.Errorf("unknown level %q", opts.Level)
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		rep.Lines++

		if grep != nil && !grep.MatchString(line) {
			continue
		}
		e := ParseLine(line)
		if level != "" && e.Level != level {
			continue
		}
		if !opts.Since.IsZero() && !e.Time.IsZero() && e.Time.Before(opts.Since) {
			continue
		}
		rep.add(e)
	}
	return scanner.Err()
}

func (rep *Report) add(e Entry) {
	rep.Matched++
	lvl := e.Level
	if lvl == "" {
		lvl = "unknown"
	}
	rep.Levels[lvl]++

	if !e.Time.IsZero() {
		t := e.Time
		if rep.First == nil || t.Before(*rep.First) {
			rep.First = &t
		}
		if rep.Last == nil || t.After(*rep.Last) {
			rep.Last = &t
		}
	}

	if isErrorLevel(e.Level) {
		key := Normalize(e.Message)
		mc, ok := rep.errors[key]
		if !ok {
			mc = &MessageCount{Message: key, Example: e.Message}
			rep.errors[key] = mc
		}
		mc.Count++
	}
}

func (rep *Report) finish(top int) {
	if top <= 0 {
		top = DefaultTop
	}
	counts := make([]MessageCount, 0, len(rep.errors))
	for _, mc := range rep.errors {
		counts = append(counts, *mc)
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Message < counts[j].Message
	})
	if len(counts) > top {
		counts = counts[:top]
	}
	rep.TopErrors = counts
}
