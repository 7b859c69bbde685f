package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/jsonutil"
	"github.com/jingkaihe/skillbox/pkg/presenter"
)

type JSONValidateConfig struct {
	JSONC  bool
	Schema string
}

func NewJSONValidateConfig() *JSONValidateConfig {
	return &JSONValidateConfig{JSONC: false, Schema: ""}
}

var jsonCmd = &cobra.Command{
	Use:   "json",
	Short: "Validate, format and query JSON",
	Long:  `Validate, format and query JSON documents given as a file path or on stdin.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var jsonValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check that a document is valid JSON",
	Long: `Check that a document is valid JSON, reporting the line and column of the
first syntax error. With --schema the document must also satisfy a JSON Schema.

Examples:
  skillbox json validate config.json
  skillbox json validate --jsonc tsconfig.json
  curl -s $URL | skillbox json validate --schema schema.json`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getJSONValidateConfigFromFlags(cmd)
		validateJSONCmd(args, config)
	},
}

var jsonPrettyCmd = &cobra.Command{
	Use:   "pretty [file]",
	Short: "Re-indent a document, keeping key order",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		indent, _ := cmd.Flags().GetInt("indent")
		data, err := readInputBytes(args)
		if err != nil {
			fail(err, "failed to read input")
		}
		out, err := jsonutil.Pretty(data, indent)
		if err != nil {
			fail(err, "invalid JSON")
		}
		os.Stdout.Write(out)
	},
}

var jsonQueryCmd = &cobra.Command{
	Use:   "query <path> [file]",
	Short: "Print the value at a path such as items[0].name",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(_ *cobra.Command, args []string) {
		data, err := readInputBytes(args[1:])
		if err != nil {
			fail(err, "failed to read input")
		}
		v, err := jsonutil.Query(data, args[0])
		if err != nil {
			fail(err, "query failed")
		}
		if s, ok := v.(string); ok {
			fmt.Println(s)
			return
		}
		printJSON(v)
	},
}

func init() {
	defaults := NewJSONValidateConfig()
	jsonValidateCmd.Flags().Bool("jsonc", defaults.JSONC, "Accept comments and trailing commas")
	jsonValidateCmd.Flags().String("schema", defaults.Schema, "JSON Schema file the document must satisfy")

	jsonPrettyCmd.Flags().Int("indent", 2, "Spaces per level (0 compacts)")

	jsonCmd.AddCommand(jsonValidateCmd)
	jsonCmd.AddCommand(jsonPrettyCmd)
	jsonCmd.AddCommand(jsonQueryCmd)
	rootCmd.AddCommand(jsonCmd)
}

func getJSONValidateConfigFromFlags(cmd *cobra.Command) *JSONValidateConfig {
	config := NewJSONValidateConfig()
	if jsonc, err := cmd.Flags().GetBool("jsonc"); err == nil {
		config.JSONC = jsonc
	}
	if schema, err := cmd.Flags().GetString("schema"); err == nil {
		config.Schema = schema
	}
	return config
}

func validateJSONCmd(args []string, config *JSONValidateConfig) {
	data, err := readInputBytes(args)
	if err != nil {
		fail(err, "failed to read input")
	}
	if err := jsonutil.Validate(data, config.JSONC); err != nil {
		fail(err, "invalid JSON")
	}

	if config.Schema != "" {
		schema, err := os.ReadFile(config.Schema)
		if err != nil {
			fail(err, "failed to read schema")
		}
		if config.JSONC {
			if data, err = jsonutil.Standardize(data); err != nil {
				fail(err, "invalid JSONC")
			}
		}
		if err := jsonutil.ValidateSchema(data, schema); err != nil {
			fail(err, "document does not match schema")
		}
	}

	presenter.Success("valid")
}
