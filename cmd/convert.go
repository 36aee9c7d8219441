package cmd

import (
	"log"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spigell/resume-crew/internal/convert"
	"github.com/spigell/resume-crew/internal/logger"
	"go.uber.org/zap"
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert pipeline outputs to PDF",
}

var md2pdfCmd = &cobra.Command{
	Use:   "md2pdf <input.md> [output.pdf]",
	Short: "Render a markdown file as PDF",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(_ *cobra.Command, args []string) {
		convertFile(args, convert.MarkdownToPDF)
	},
}

var json2pdfCmd = &cobra.Command{
	Use:   "json2pdf <input.json> [output.pdf]",
	Short: "Pretty print a JSON file into a PDF",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(_ *cobra.Command, args []string) {
		convertFile(args, convert.JSONToPDF)
	},
}

func init() {
	convertCmd.AddCommand(md2pdfCmd, json2pdfCmd)
	rootCmd.AddCommand(convertCmd)
}

func convertFile(args []string, fn func(src, dst string) error) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	src := args[0]
	dst := pdfName(src)
	if len(args) == 2 {
		dst = args[1]
	}

	if err := fn(src, dst); err != nil {
		logger.Fatal("converting", zap.String("input", src), zap.Error(err))
	}

	logger.Info("converted", zap.String("input", src), zap.String("output", dst))
}

func pdfName(src string) string {
	return strings.TrimSuffix(src, filepath.Ext(src)) + ".pdf"
}
