// Package skills discovers skill manifests: directories holding a SKILL.md
// file whose YAML frontmatter names and describes the skill. Built-in
// manifests ship embedded in the binary and sit below user directories in
// precedence.
package skills

// Skill represents a discovered skill with its metadata
type Skill struct {
	Name        string   `json:"name"`                // Unique name from frontmatter
	Description string   `json:"description"`         // One line summary
	Directory   string   `json:"directory,omitempty"` // Full path to the skill directory, empty for built-ins
	Content     string   `json:"-"`                   // Body of SKILL.md without frontmatter
	Commands    []string `json:"commands,omitempty"`  // skillbox subcommands the skill exposes
	Builtin     bool     `json:"builtin"`
}

// Metadata represents the YAML frontmatter in SKILL.md files
type Metadata struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Commands    []string `yaml:"commands"`
}
