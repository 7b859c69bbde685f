package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillbox/pkg/presenter"
	"github.com/jingkaihe/skillbox/pkg/vault"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the local encrypted secret vault",
	Long: `Manage the local secret vault, an age-encrypted file under the base path.

The key is the identity file from --identity (or vault.identity), otherwise the
passphrase in ` + vault.PassphraseEnv + `. Entries named after a skill, such as
"notion" or "github", are used when no token is configured.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var vaultSetCmd = &cobra.Command{
	Use:   "set <name> [value]",
	Short: "Store a secret, reading it from stdin when no value is given",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(_ *cobra.Command, args []string) {
		value, err := readInput(args[1:])
		if err != nil {
			fail(err, "failed to read secret")
		}
		value = strings.TrimRight(value, "\r\n")
		if value == "" {
			usageError(errors.New("secret value is empty"), "nothing to store")
		}
		if err := openVault().Set(args[0], value); err != nil {
			fail(err, "failed to store secret")
		}
		presenter.Success("stored " + args[0])
	},
}

var vaultGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Print a secret",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		value, err := openVault().Get(args[0])
		if err != nil {
			fail(err, "failed to read secret")
		}
		fmt.Println(value)
	},
}

var vaultRmCmd = &cobra.Command{
	Use:     "rm <name>",
	Aliases: []string{"delete"},
	Short:   "Remove a secret",
	Args:    cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		if err := openVault().Delete(args[0]); err != nil {
			fail(err, "failed to remove secret")
		}
		presenter.Success("removed " + args[0])
	},
}

var vaultLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List secret names",
	Run: func(cmd *cobra.Command, _ []string) {
		names, updated, err := openVault().List()
		if err != nil {
			fail(err, "failed to list secrets")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			printJSON(updated)
			return
		}
		if len(names) == 0 {
			presenter.Info("The vault is empty")
			return
		}
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			rows = append(rows, []string{name, updated[name].Local().Format(time.DateTime)})
		}
		presenter.Table([]string{"NAME", "UPDATED"}, rows)
	},
}

var vaultKeygenCmd = &cobra.Command{
	Use:   "keygen [path]",
	Short: "Create an X25519 identity file for the vault",
	Args:  cobra.MaximumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		path := filepath.Join(loadConfig().BasePath, "vault.key")
		if len(args) == 1 {
			path = args[0]
		}
		recipient, err := vault.GenerateIdentity(path)
		if err != nil {
			fail(err, "failed to create identity")
		}
		presenter.Success("identity at " + path)
		presenter.Info("public key: " + recipient)
	},
}

func init() {
	vaultCmd.PersistentFlags().String("identity", "", "age identity file")
	viper.BindPFlag("vault.identity", vaultCmd.PersistentFlags().Lookup("identity"))
	vaultLsCmd.Flags().Bool("json", false, "Output as JSON")

	vaultCmd.AddCommand(vaultSetCmd)
	vaultCmd.AddCommand(vaultGetCmd)
	vaultCmd.AddCommand(vaultRmCmd)
	vaultCmd.AddCommand(vaultLsCmd)
	vaultCmd.AddCommand(vaultKeygenCmd)
	rootCmd.AddCommand(vaultCmd)
}

func openVault() *vault.Vault {
	cfg := loadConfig()
	v, err := vault.Open(cfg.VaultPath(), viper.GetString("vault.identity"))
	if err != nil {
		usageError(err, "failed to open vault")
	}
	return v
}
