package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/onepassword"
	"github.com/jingkaihe/skillbox/pkg/presenter"
)

var opCmd = &cobra.Command{
	Use:   "op",
	Short: "Read items and secrets through the 1Password CLI",
	Long: `Read items and secrets through the 1Password CLI. The op binary must be
installed and signed in; secrets are masked unless --reveal is given.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var opWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account",
	Run: func(cmd *cobra.Command, _ []string) {
		withOnePassword(cmd, func(ctx context.Context, c *onepassword.Client) {
			account, err := c.Whoami(ctx)
			if err != nil {
				fail(err, "not signed in")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(account)
				return
			}
			fmt.Printf("%s (%s)\n", account.Email, account.URL)
		})
	},
}

var opVaultsCmd = &cobra.Command{
	Use:   "vaults",
	Short: "List vaults",
	Run: func(cmd *cobra.Command, _ []string) {
		withOnePassword(cmd, func(ctx context.Context, c *onepassword.Client) {
			vaults, err := c.ListVaults(ctx)
			if err != nil {
				fail(err, "failed to list vaults")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(vaults)
				return
			}
			rows := make([][]string, 0, len(vaults))
			for _, v := range vaults {
				rows = append(rows, []string{v.Name, v.ID})
			}
			presenter.Table([]string{"NAME", "ID"}, rows)
		})
	},
}

var opItemsCmd = &cobra.Command{
	Use:   "items",
	Short: "List items, optionally in one vault",
	Run: func(cmd *cobra.Command, _ []string) {
		vaultName, _ := cmd.Flags().GetString("vault")
		withOnePassword(cmd, func(ctx context.Context, c *onepassword.Client) {
			items, err := c.ListItems(ctx, vaultName)
			if err != nil {
				fail(err, "failed to list items")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(items)
				return
			}
			rows := make([][]string, 0, len(items))
			for _, it := range items {
				rows = append(rows, []string{it.Title, it.Category, it.Vault.Name, it.ID})
			}
			presenter.Table([]string{"TITLE", "CATEGORY", "VAULT", "ID"}, rows)
		})
	},
}

var opGetCmd = &cobra.Command{
	Use:   "get <item>",
	Short: "Show an item's fields",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		vaultName, _ := cmd.Flags().GetString("vault")
		reveal, _ := cmd.Flags().GetBool("reveal")
		field, _ := cmd.Flags().GetString("field")
		withOnePassword(cmd, func(ctx context.Context, c *onepassword.Client) {
			item, err := c.GetItem(ctx, args[0], vaultName)
			if err != nil {
				fail(err, "failed to get item")
			}

			if field != "" {
				f, ok := item.Field(field)
				if !ok {
					fail(errors.Errorf("item %q has no field %q", item.Title, field), "field not found")
				}
				fmt.Println(displayField(f, reveal))
				return
			}

			if !reveal {
				for i, f := range item.Fields {
					if f.Concealed() {
						item.Fields[i].Value = onepassword.Mask(f.Value)
					}
				}
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(item)
				return
			}
			presenter.Section(item.Title)
			rows := make([][]string, 0, len(item.Fields))
			for _, f := range item.Fields {
				if f.Value == "" {
					continue
				}
				rows = append(rows, []string{f.Label, f.Value})
			}
			presenter.Table([]string{"FIELD", "VALUE"}, rows)
		})
	},
}

var opReadCmd = &cobra.Command{
	Use:   "read <op://vault/item/field>",
	Short: "Print a single secret reference",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := onepassword.ValidateReference(args[0]); err != nil {
			usageError(err, "invalid secret reference")
		}
		withOnePassword(cmd, func(ctx context.Context, c *onepassword.Client) {
			secret, err := c.Read(ctx, args[0])
			if err != nil {
				fail(err, "failed to read secret")
			}
			fmt.Fprintln(os.Stdout, secret)
		})
	},
}

func init() {
	opCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	opItemsCmd.Flags().String("vault", "", "Vault name or id")
	opGetCmd.Flags().String("vault", "", "Vault name or id")
	opGetCmd.Flags().String("field", "", "Print only this field")
	opGetCmd.Flags().Bool("reveal", false, "Show concealed values")

	opCmd.AddCommand(opWhoamiCmd)
	opCmd.AddCommand(opVaultsCmd)
	opCmd.AddCommand(opItemsCmd)
	opCmd.AddCommand(opGetCmd)
	opCmd.AddCommand(opReadCmd)
	rootCmd.AddCommand(opCmd)
}

func withOnePassword(cmd *cobra.Command, fn func(context.Context, *onepassword.Client)) {
	fn(cmd.Context(), onepassword.NewClient(onepassword.ExecRunner{}))
}

func displayField(f onepassword.Field, reveal bool) string {
	if f.Concealed() && !reveal {
		return onepassword.Mask(f.Value)
	}
	return f.Value
}
