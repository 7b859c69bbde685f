package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/presenter"
	"github.com/jingkaihe/skillbox/pkg/qrcode"
)

type QRConfig struct {
	Out   string
	Size  int
	Level string
}

func NewQRConfig() *QRConfig {
	return &QRConfig{Out: "", Size: qrcode.DefaultSize, Level: "M"}
}

var qrCmd = &cobra.Command{
	Use:   "qr <text...>",
	Short: "Generate a QR code",
	Long: `Generate a QR code as a PNG file, or print it to the terminal when --out is not given.

Examples:
  skillbox qr https://example.com
  skillbox qr "WIFI:S:home;T:WPA;P:secret;;" --out wifi.png --level H`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getQRConfigFromFlags(cmd)
		qrCommand(strings.Join(args, " "), config)
	},
}

func init() {
	defaults := NewQRConfig()
	qrCmd.Flags().StringP("out", "o", defaults.Out, "Write a PNG to this path")
	qrCmd.Flags().Int("size", defaults.Size, "PNG edge length in pixels")
	qrCmd.Flags().String("level", defaults.Level, "Error correction level (L, M, Q or H)")
	rootCmd.AddCommand(qrCmd)
}

func getQRConfigFromFlags(cmd *cobra.Command) *QRConfig {
	config := NewQRConfig()
	if out, err := cmd.Flags().GetString("out"); err == nil {
		config.Out = out
	}
	if size, err := cmd.Flags().GetInt("size"); err == nil {
		config.Size = size
	}
	if level, err := cmd.Flags().GetString("level"); err == nil {
		config.Level = level
	}
	return config
}

func qrCommand(content string, config *QRConfig) {
	opts := qrcode.Options{Size: config.Size, Level: config.Level}
	if _, err := qrcode.ParseLevel(config.Level); err != nil {
		usageError(err, "invalid error correction level")
	}

	if config.Out == "" {
		art, err := qrcode.Terminal(content, opts)
		if err != nil {
			fail(err, "failed to generate QR code")
		}
		fmt.Print(art)
		return
	}

	if err := qrcode.WriteFile(content, config.Out, opts); err != nil {
		fail(err, "failed to write QR code")
	}
	presenter.Success("wrote " + config.Out)
}
