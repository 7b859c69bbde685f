package scrape

import (
	"bufio"
	"context"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/jingkaihe/skillbox/pkg/logger"
)

// DomainRefreshInterval is how often the allow list file is re-read.
const DomainRefreshInterval = 30 * time.Second

// DomainFilter is an allow list of hostnames loaded from a file, one entry
// per line. Entries may be bare hosts, URLs or glob patterns such as
// *.example.com, where * matches a single label. Lines starting with # are
// comments. A missing or empty file allows every host.
type DomainFilter struct {
	mu       sync.RWMutex
	path     string
	exact    map[string]bool
	patterns []glob.Glob
	raw      []string
	loadedAt time.Time
	now      func() time.Time
}

// NewDomainFilter loads the allow list at path. A leading ~/ is expanded.
func NewDomainFilter(path string) *DomainFilter {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	f := &DomainFilter{path: path, now: time.Now}
	f.load()
	return f
}

func (f *DomainFilter) load() {
	exact := map[string]bool{}
	var patterns []glob.Glob
	var raw []string

	file, err := os.Open(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.G(context.Background()).WithError(err).WithField("file", f.path).Error("failed to open allowed domains file")
		}
	} else {
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			host := entryHost(scanner.Text())
			if host == "" {
				continue
			}
			if strings.ContainsAny(host, "*?") {
				if g, err := glob.Compile(host, '.'); err == nil {
					patterns = append(patterns, g)
					raw = append(raw, host)
					continue
				}
			}
			exact[host] = true
		}
		file.Close()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.exact = exact
	f.patterns = patterns
	f.raw = raw
	f.loadedAt = f.now()
}

// entryHost reduces an allow list line to a lowercase hostname.
func entryHost(line string) string {
	line = strings.ToLower(strings.TrimSpace(line))
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	if !strings.Contains(line, "://") {
		line = "https://" + line
	}
	if u, err := url.Parse(line); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	host := line[strings.Index(line, "://")+3:]
	if i := strings.IndexAny(host, "/:"); i >= 0 {
		host = host[:i]
	}
	return host
}

func (f *DomainFilter) stale() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.now().Sub(f.loadedAt) > DomainRefreshInterval
}

// IsAllowed reports whether the host of rawURL may be fetched. Loopback
// hosts are always allowed.
func (f *DomainFilter) IsAllowed(rawURL string) (bool, error) {
	if f.stale() {
		f.load()
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false, err
	}
	host := strings.ToLower(u.Hostname())
	if IsLocalHost(host) {
		return true, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.exact) == 0 && len(f.patterns) == 0 {
		return true, nil
	}
	if f.exact[host] {
		return true, nil
	}
	for _, g := range f.patterns {
		if g.Match(host) {
			return true, nil
		}
	}
	return false, nil
}

// Domains returns the exact hosts followed by the glob patterns.
func (f *DomainFilter) Domains() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]string, 0, len(f.exact)+len(f.raw))
	for host := range f.exact {
		out = append(out, host)
	}
	return append(out, f.raw...)
}

// IsLocalHost reports whether host is a loopback name or address.
func IsLocalHost(host string) bool {
	switch host {
	case "localhost", "0.0.0.0":
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
