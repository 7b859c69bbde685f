package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, dir, name, content string) string {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0o644))
	return skillDir
}

func TestNewDiscovery(t *testing.T) {
	t.Run("with default dirs and builtins", func(t *testing.T) {
		discovery, err := NewDiscovery()
		require.NoError(t, err)
		assert.Len(t, discovery.skillDirs, 2)
		assert.True(t, discovery.builtins)
	})

	t.Run("with custom dirs", func(t *testing.T) {
		customDirs := []string{"/tmp/skills1", "/tmp/skills2"}
		discovery, err := NewDiscovery(WithSkillDirs(customDirs...))
		require.NoError(t, err)
		assert.Equal(t, customDirs, discovery.skillDirs)
		assert.False(t, discovery.builtins)
	})
}

func TestDiscoverSkills(t *testing.T) {
	tmpDir := t.TempDir()

	skill1Dir := writeSkill(t, tmpDir, "deploy-notes", `---
name: deploy-notes
description: Post release notes after a deploy
commands:
  - sop start
  - email send
---

# Deploy Notes

Run the release SOP, then email the summary.
`)
	writeSkill(t, tmpDir, "other", `---
name: other-skill
description: Another test skill
---

# Another Skill
`)

	discovery, err := NewDiscovery(WithSkillDirs(tmpDir))
	require.NoError(t, err)

	skills, err := discovery.DiscoverSkills()
	require.NoError(t, err)
	assert.Len(t, skills, 2)

	s, exists := skills["deploy-notes"]
	require.True(t, exists)
	assert.Equal(t, "Post release notes after a deploy", s.Description)
	assert.Equal(t, skill1Dir, s.Directory)
	assert.Equal(t, []string{"sop start", "email send"}, s.Commands)
	assert.Contains(t, s.Content, "# Deploy Notes")
	assert.False(t, s.Builtin)

	// the frontmatter name wins over the directory name
	_, exists = skills["other-skill"]
	assert.True(t, exists)
}

func TestDiscoverSkillsWithSymlinks(t *testing.T) {
	tmpDir := t.TempDir()
	skillsDir := filepath.Join(tmpDir, "skills")
	require.NoError(t, os.MkdirAll(skillsDir, 0o755))

	actual := writeSkill(t, filepath.Join(tmpDir, "actual"), "linked", `---
name: linked
description: A skill accessed via symlink
---

Body.
`)
	require.NoError(t, os.Symlink(actual, filepath.Join(skillsDir, "linked")))

	// symlink to a file and a dangling symlink are both ignored
	filePath := filepath.Join(tmpDir, "file.md")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0o644))
	require.NoError(t, os.Symlink(filePath, filepath.Join(skillsDir, "to-file")))
	require.NoError(t, os.Symlink(filepath.Join(tmpDir, "nowhere"), filepath.Join(skillsDir, "broken")))

	discovery, err := NewDiscovery(WithSkillDirs(skillsDir))
	require.NoError(t, err)

	skills, err := discovery.DiscoverSkills()
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, filepath.Join(skillsDir, "linked"), skills["linked"].Directory)
}

func TestDiscoveryPrecedence(t *testing.T) {
	local := t.TempDir()
	global := t.TempDir()

	writeSkill(t, local, "weather", `---
name: weather
description: Local override
---

Local.
`)
	writeSkill(t, global, "weather", `---
name: weather
description: Global version
---

Global.
`)

	discovery, err := NewDiscovery(WithSkillDirs(local, global), WithBuiltins())
	require.NoError(t, err)

	skills, err := discovery.DiscoverSkills()
	require.NoError(t, err)

	assert.Equal(t, "Local override", skills["weather"].Description)
	assert.False(t, skills["weather"].Builtin)

	// other built-ins still appear
	require.Contains(t, skills, "sop-runner")
	assert.True(t, skills["sop-runner"].Builtin)
	assert.Empty(t, skills["sop-runner"].Directory)
}

func TestBuiltinCatalogIsValid(t *testing.T) {
	discovery, err := NewDiscovery(WithBuiltins())
	require.NoError(t, err)

	names, err := discovery.ListSkillNames()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(names), 20)
	assert.IsIncreasing(t, names)

	for _, name := range names {
		content, err := builtinFS.ReadFile("builtin/" + name + "/SKILL.md")
		require.NoError(t, err, name)
		assert.NoError(t, ValidateManifest(content), name)
	}
}

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no frontmatter",
			content: "# Title\n\nBody",
			wantErr: "missing frontmatter",
		},
		{
			name:    "missing name",
			content: "---\ndescription: d\n---\n\nBody",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "---\nname: n\n---\n\nBody",
			wantErr: "description is required",
		},
		{
			name:    "valid",
			content: "---\nname: n\ndescription: d\n---\n\nBody",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			skill, err := ParseManifest([]byte(tt.content))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Body", skill.Content)
		})
	}
}

func TestValidateManifest(t *testing.T) {
	t.Run("reports every problem", func(t *testing.T) {
		err := ValidateManifest([]byte("---\nname: Not Kebab\ncommands: weather\n---\n"))
		require.Error(t, err)

		var merr *multierror.Error
		require.ErrorAs(t, err, &merr)
		assert.Len(t, merr.Errors, 4)
		assert.Contains(t, err.Error(), "must be kebab-case")
		assert.Contains(t, err.Error(), "description is required")
		assert.Contains(t, err.Error(), "commands must be a list")
		assert.Contains(t, err.Error(), "body is empty")
	})

	t.Run("missing frontmatter", func(t *testing.T) {
		assert.EqualError(t, ValidateManifest([]byte("just text")), "missing frontmatter")
	})

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, ValidateManifest([]byte("---\nname: ok-skill\ndescription: fine\n---\n\n# Ok\n")))
	})
}

func TestExtractBodyContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{"with frontmatter", "---\nname: x\n---\n\n# Body", "# Body"},
		{"without frontmatter", "# Just body", "# Just body"},
		{"unclosed frontmatter", "---\nname: x\n# Body", "---\nname: x\n# Body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractBodyContent(tt.content))
		})
	}
}

func TestFilterByAllowlist(t *testing.T) {
	skills := map[string]*Skill{
		"a": {Name: "a"},
		"b": {Name: "b"},
		"c": {Name: "c"},
	}

	assert.Len(t, FilterByAllowlist(skills, nil), 3)

	filtered := FilterByAllowlist(skills, []string{"a", "c", "missing"})
	assert.Len(t, filtered, 2)
	assert.Contains(t, filtered, "a")
	assert.Contains(t, filtered, "c")
}

func TestGetSkill(t *testing.T) {
	discovery, err := NewDiscovery(WithSkillDirs(t.TempDir()), WithBuiltins())
	require.NoError(t, err)

	skill, err := discovery.GetSkill("weather")
	require.NoError(t, err)
	assert.Contains(t, skill.Commands, "weather")

	_, err = discovery.GetSkill("nonexistent")
	assert.ErrorContains(t, err, "not found")
}

func TestNonExistentDirectory(t *testing.T) {
	discovery, err := NewDiscovery(WithSkillDirs("/nonexistent/path"))
	require.NoError(t, err)

	skills, err := discovery.DiscoverSkills()
	require.NoError(t, err)
	assert.Empty(t, skills)
}

func TestInitialize(t *testing.T) {
	base := t.TempDir()
	writeSkill(t, filepath.Join(base, "skills"), "mine", "---\nname: mine\ndescription: user skill\n---\n\nBody\n")

	all := Initialize(context.Background(), base, nil)
	assert.Contains(t, all, "mine")
	assert.Contains(t, all, "weather")

	only := Initialize(context.Background(), base, []string{"mine"})
	assert.Len(t, only, 1)
}
