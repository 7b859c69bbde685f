package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/presenter"
	"github.com/jingkaihe/skillbox/pkg/skills"
)

type SkillListConfig struct {
	JSON bool
}

func NewSkillListConfig() *SkillListConfig {
	return &SkillListConfig{JSON: false}
}

type SkillShowConfig struct {
	Raw   bool
	Width int
}

func NewSkillShowConfig() *SkillShowConfig {
	return &SkillShowConfig{Raw: false, Width: 100}
}

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Inspect skillbox skills",
	Long:  `List, show and validate the skills available to agents.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available skills",
	Long:  `List built-in skills and those installed in ./.skillbox/skills and ~/.skillbox/skills.`,
	Run: func(cmd *cobra.Command, _ []string) {
		config := getSkillListConfigFromFlags(cmd)
		listSkillsCmd(cmd.Context(), config)
	},
}

var skillShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Render a skill's SKILL.md",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getSkillShowConfigFromFlags(cmd)
		showSkillCmd(cmd.Context(), args[0], config)
	},
}

var skillValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Validate a SKILL.md manifest",
	Long: `Validate a SKILL.md file, or the SKILL.md inside a directory. Every problem
with the frontmatter is reported at once.`,
	Args: cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		validateSkillCmd(args[0])
	},
}

func init() {
	listDefaults := NewSkillListConfig()
	skillListCmd.Flags().Bool("json", listDefaults.JSON, "Output as JSON")

	showDefaults := NewSkillShowConfig()
	skillShowCmd.Flags().Bool("raw", showDefaults.Raw, "Print the markdown without rendering")
	skillShowCmd.Flags().Int("width", showDefaults.Width, "Word wrap width for rendered output")

	skillCmd.AddCommand(skillListCmd)
	skillCmd.AddCommand(skillShowCmd)
	skillCmd.AddCommand(skillValidateCmd)
	rootCmd.AddCommand(skillCmd)
}

func getSkillListConfigFromFlags(cmd *cobra.Command) *SkillListConfig {
	config := NewSkillListConfig()
	if asJSON, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = asJSON
	}
	return config
}

func getSkillShowConfigFromFlags(cmd *cobra.Command) *SkillShowConfig {
	config := NewSkillShowConfig()
	if raw, err := cmd.Flags().GetBool("raw"); err == nil {
		config.Raw = raw
	}
	if width, err := cmd.Flags().GetInt("width"); err == nil && width > 0 {
		config.Width = width
	}
	return config
}

func discoverSkills(ctx context.Context) map[string]*skills.Skill {
	cfg := loadConfig()
	return skills.Initialize(ctx, cfg.BasePath, nil)
}

func listSkillsCmd(ctx context.Context, config *SkillListConfig) {
	all := discoverSkills(ctx)
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	if config.JSON {
		list := make([]*skills.Skill, 0, len(names))
		for _, name := range names {
			list = append(list, all[name])
		}
		printJSON(list)
		return
	}

	if len(names) == 0 {
		presenter.Info("No skills found")
		return
	}

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		s := all[name]
		source := s.Directory
		if s.Builtin {
			source = "built-in"
		}
		rows = append(rows, []string{s.Name, s.Description, source})
	}
	presenter.Table([]string{"NAME", "DESCRIPTION", "SOURCE"}, rows)
}

func showSkillCmd(ctx context.Context, name string, config *SkillShowConfig) {
	skill, ok := discoverSkills(ctx)[name]
	if !ok {
		fail(errors.Errorf("skill %q not found", name), "failed to show skill")
	}

	markdown := fmt.Sprintf("# %s\n\n_%s_\n\n%s", skill.Name, skill.Description, skill.Content)
	if len(skill.Commands) > 0 {
		markdown += "\n\n## Commands\n\n- `skillbox " + strings.Join(skill.Commands, "`\n- `skillbox ") + "`\n"
	}

	if config.Raw {
		fmt.Println(markdown)
		return
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(config.Width),
	)
	if err != nil {
		fail(err, "failed to create markdown renderer")
	}
	out, err := renderer.Render(markdown)
	if err != nil {
		fail(err, "failed to render skill")
	}
	fmt.Print(out)
}

func validateSkillCmd(path string) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "SKILL.md")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		fail(err, "failed to read manifest")
	}
	if err := skills.ValidateManifest(content); err != nil {
		fail(err, "invalid manifest "+path)
	}
	presenter.Success(path + " is valid")
}
