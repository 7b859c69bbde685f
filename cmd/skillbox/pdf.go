package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/pdf"
	"github.com/jingkaihe/skillbox/pkg/presenter"
)

var pdfCmd = &cobra.Command{
	Use:   "pdf",
	Short: "Merge, split, extract and edit PDF files",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var pdfMergeCmd = &cobra.Command{
	Use:   "merge <input.pdf...>",
	Short: "Concatenate PDFs into one file",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		out, _ := cmd.Flags().GetString("out")
		merged, err := pdf.Merge(cmd.Context(), args, out)
		if err != nil {
			fail(err, "merge failed")
		}
		presenter.Success(fmt.Sprintf("merged %d file(s) into %s", len(merged), out))
	},
}

var pdfSplitCmd = &cobra.Command{
	Use:   "split <input.pdf>",
	Short: "Write every page to its own file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		outDir, _ := cmd.Flags().GetString("out-dir")
		if outDir == "" {
			outDir = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0])) + "_pages"
		}
		files, err := pdf.Split(cmd.Context(), args[0], outDir)
		if err != nil {
			fail(err, "split failed")
		}
		presenter.Success(fmt.Sprintf("wrote %d page(s) to %s", len(files), outDir))
	},
}

var pdfExtractCmd = &cobra.Command{
	Use:   "extract <input.pdf> <ranges>",
	Short: "Copy selected pages, such as 1-5,7,9-10, to a new file",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + "_extracted.pdf"
		}
		pages, err := pdf.Extract(cmd.Context(), args[0], args[1], out)
		if err != nil {
			fail(err, "extract failed")
		}
		nums := make([]string, len(pages))
		for i, p := range pages {
			nums[i] = strconv.Itoa(p)
		}
		presenter.Success(fmt.Sprintf("extracted page(s) %s into %s", strings.Join(nums, ","), out))
	},
}

var pdfInfoCmd = &cobra.Command{
	Use:   "info <input.pdf>",
	Short: "Show page count and metadata",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		info, err := pdf.GetInfo(args[0])
		if err != nil {
			fail(err, "failed to read PDF")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			printJSON(info)
			return
		}
		rows := [][]string{{"pages", strconv.Itoa(info.Pages)}}
		for _, kv := range [][2]string{
			{"title", info.Title},
			{"author", info.Author},
			{"subject", info.Subject},
			{"creator", info.Creator},
			{"producer", info.Producer},
			{"created", info.CreationDate},
			{"modified", info.ModDate},
		} {
			if kv[1] != "" {
				rows = append(rows, []string{kv[0], kv[1]})
			}
		}
		presenter.Section(info.File)
		presenter.Table([]string{"FIELD", "VALUE"}, rows)
	},
}

var pdfEditCmd = &cobra.Command{
	Use:   "edit <input.pdf> <page> <instruction>",
	Short: "Apply a text edit to one page with nano-pdf",
	Long: `Apply a text edit to one page with the nano-pdf CLI.

Recognized instructions:
  replace 'old' with 'new'
  change old to new
  change the title to 'Title'
  update the date to 2024-01-01

Anything else is passed through as a complex instruction.`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := strconv.Atoi(args[1]); err != nil {
			usageError(errors.Errorf("page must be a number, got %q", args[1]), "invalid page")
		}
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + "_edited.pdf"
		}

		instr := pdf.ParseInstruction(args[2])
		presenter.Info(fmt.Sprintf("instruction kind: %s", instr.Kind))

		output, err := pdf.Editor{}.Edit(cmd.Context(), args[0], args[1], args[2], out)
		if err != nil {
			if exitCodeFor(err) == exitUsage {
				usageError(err, "PDF editing is unavailable")
			}
			fail(err, "edit failed")
		}
		if output != "" {
			fmt.Println(output)
		}
		presenter.Success("wrote " + out)
	},
}

func init() {
	pdfMergeCmd.Flags().StringP("out", "o", "merged.pdf", "Output file")
	pdfSplitCmd.Flags().String("out-dir", "", "Output directory (default <name>_pages)")
	pdfExtractCmd.Flags().StringP("out", "o", "", "Output file (default <name>_extracted.pdf)")
	pdfInfoCmd.Flags().Bool("json", false, "Output as JSON")
	pdfEditCmd.Flags().StringP("out", "o", "", "Output file (default <name>_edited.pdf)")

	pdfCmd.AddCommand(pdfMergeCmd)
	pdfCmd.AddCommand(pdfSplitCmd)
	pdfCmd.AddCommand(pdfExtractCmd)
	pdfCmd.AddCommand(pdfInfoCmd)
	pdfCmd.AddCommand(pdfEditCmd)
	rootCmd.AddCommand(pdfCmd)
}
