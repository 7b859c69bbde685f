package skills

import (
	"bytes"
	"context"
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"

	"github.com/jingkaihe/skillbox/pkg/logger"
)

const skillFileName = "SKILL.md"

//go:embed builtin
var builtinFS embed.FS

var nameRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Discovery handles skill discovery from configured directories
type Discovery struct {
	skillDirs []string
	builtins  bool
}

// Option is a function that configures a Discovery
type Option func(*Discovery) error

// WithSkillDirs sets custom skill directories
func WithSkillDirs(dirs ...string) Option {
	return func(d *Discovery) error {
		d.skillDirs = dirs
		return nil
	}
}

// WithDefaultDirs initializes with default skill directories
func WithDefaultDirs() Option {
	return func(d *Discovery) error {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "failed to get user home directory")
		}
		d.skillDirs = []string{
			"./.skillbox/skills", // Repo-local (highest precedence)
			filepath.Join(homeDir, ".skillbox", "skills"),
		}
		return nil
	}
}

// WithBuiltins includes the manifests embedded in the binary.
func WithBuiltins() Option {
	return func(d *Discovery) error {
		d.builtins = true
		return nil
	}
}

// NewDiscovery creates a new skill discovery instance. With no options it
// searches the default directories and the built-in catalog.
func NewDiscovery(opts ...Option) (*Discovery, error) {
	d := &Discovery{}

	if len(opts) == 0 {
		opts = []Option{WithDefaultDirs(), WithBuiltins()}
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// DiscoverSkills finds all available skills. The first directory to define a
// name wins, and built-ins only fill names no directory provided.
func (d *Discovery) DiscoverSkills() (map[string]*Skill, error) {
	skills := make(map[string]*Skill)

	for _, dir := range d.skillDirs {
		// unreadable directories and broken manifests are skipped
		_ = scan(os.DirFS(dir), ".", func(name string, skill *Skill) {
			skill.Directory = filepath.Join(dir, name)
			addSkill(skills, skill)
		}, false)
	}

	if d.builtins {
		err := scan(builtinFS, "builtin", func(_ string, skill *Skill) {
			skill.Builtin = true
			addSkill(skills, skill)
		}, true)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load built-in skills")
		}
	}

	return skills, nil
}

func addSkill(skills map[string]*Skill, skill *Skill) {
	if _, exists := skills[skill.Name]; !exists {
		skills[skill.Name] = skill
	}
}

// scan parses <root>/<entry>/SKILL.md for every directory entry of root and
// hands each manifest to found. In strict mode the first problem is returned;
// otherwise problems are logged and the entry skipped.
func scan(fsys fs.FS, root string, found func(name string, skill *Skill), strict bool) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		entryPath := path.Join(root, entry.Name())
		// fs.Stat follows symlinked skill directories on disk
		if info, err := fs.Stat(fsys, entryPath); err != nil || !info.IsDir() {
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(entryPath, skillFileName))
		if err == nil {
			var skill *Skill
			if skill, err = ParseManifest(content); err == nil {
				found(entry.Name(), skill)
				continue
			}
		}
		if strict {
			return errors.Wrapf(err, "skill %s", entry.Name())
		}
		if !errors.Is(err, fs.ErrNotExist) {
			logger.G(context.TODO()).WithError(err).WithField("path", entryPath).Debug("skipping invalid skill")
		}
	}
	return nil
}

// GetSkill returns a specific skill by name
func (d *Discovery) GetSkill(name string) (*Skill, error) {
	skills, err := d.DiscoverSkills()
	if err != nil {
		return nil, err
	}

	skill, exists := skills[name]
	if !exists {
		return nil, errors.Errorf("skill '%s' not found", name)
	}

	return skill, nil
}

// ListSkillNames returns the sorted names of all available skills
func (d *Discovery) ListSkillNames() ([]string, error) {
	skills, err := d.DiscoverSkills()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(skills))
	for name := range skills {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

// parseFrontmatter runs goldmark with the meta extension and returns the
// frontmatter map, or nil when there is none.
func parseFrontmatter(content []byte) (map[string]any, error) {
	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()

	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, errors.Wrap(err, "failed to parse markdown")
	}

	return meta.Get(pctx), nil
}

// ParseManifest parses SKILL.md content into a Skill, failing on the first problem.
func ParseManifest(content []byte) (*Skill, error) {
	metaData, err := parseFrontmatter(content)
	if err != nil {
		return nil, err
	}
	if len(metaData) == 0 {
		return nil, errors.New("missing frontmatter")
	}

	name, _ := metaData["name"].(string)
	description, _ := metaData["description"].(string)

	if name == "" {
		return nil, errors.New("skill name is required in frontmatter")
	}
	if description == "" {
		return nil, errors.New("skill description is required in frontmatter")
	}

	return &Skill{
		Name:        name,
		Description: description,
		Commands:    stringList(metaData["commands"]),
		Content:     extractBodyContent(string(content)),
	}, nil
}

// ValidateManifest reports every problem with SKILL.md content at once.
func ValidateManifest(content []byte) error {
	metaData, err := parseFrontmatter(content)
	if err != nil {
		return err
	}
	if len(metaData) == 0 {
		return errors.New("missing frontmatter")
	}

	var result *multierror.Error

	name, _ := metaData["name"].(string)
	switch {
	case name == "":
		result = multierror.Append(result, errors.New("name is required"))
	case !nameRe.MatchString(name):
		result = multierror.Append(result, errors.Errorf("name %q must be kebab-case", name))
	case len(name) > 64:
		result = multierror.Append(result, errors.Errorf("name %q is longer than 64 characters", name))
	}

	description, _ := metaData["description"].(string)
	switch {
	case strings.TrimSpace(description) == "":
		result = multierror.Append(result, errors.New("description is required"))
	case len(description) > 1024:
		result = multierror.Append(result, errors.New("description is longer than 1024 characters"))
	}

	if raw, ok := metaData["commands"]; ok {
		if _, isList := raw.([]any); !isList {
			result = multierror.Append(result, errors.New("commands must be a list"))
		}
	}

	if strings.TrimSpace(extractBodyContent(string(content))) == "" {
		result = multierror.Append(result, errors.New("body is empty"))
	}

	return result.ErrorOrNil()
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// extractBodyContent removes YAML frontmatter and returns the body
func extractBodyContent(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	frontmatterEnd := -1

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			frontmatterEnd = i
			break
		}
	}

	if frontmatterEnd == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[frontmatterEnd+1:], "\n"), "\n")
}

// FilterByAllowlist filters skills by an allowlist of names
// If the allowlist is empty, all skills are returned
func FilterByAllowlist(skills map[string]*Skill, allowed []string) map[string]*Skill {
	if len(allowed) == 0 {
		return skills
	}

	filtered := make(map[string]*Skill)
	for _, name := range allowed {
		if skill, exists := skills[name]; exists {
			filtered[name] = skill
		}
	}
	return filtered
}

// Initialize discovers skills from the repo-local directory, the base path
// and the built-in catalog. Discovery problems are logged, never fatal.
func Initialize(ctx context.Context, basePath string, allowed []string) map[string]*Skill {
	dirs := []string{"./.skillbox/skills"}
	if basePath != "" {
		dirs = append(dirs, filepath.Join(basePath, "skills"))
	}

	discovery, err := NewDiscovery(WithSkillDirs(dirs...), WithBuiltins())
	if err != nil {
		logger.G(ctx).WithError(err).Debug("failed to create skill discovery")
		return map[string]*Skill{}
	}

	all, err := discovery.DiscoverSkills()
	if err != nil {
		logger.G(ctx).WithError(err).Warn("failed to discover skills")
		return map[string]*Skill{}
	}

	return FilterByAllowlist(all, allowed)
}
