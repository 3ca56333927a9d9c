// Command ragdex serves the retrieval-augmented generation API and answers one-shot questions.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kailas-cloud/ragdex/internal/config"
)

var envName string

var rootCmd = &cobra.Command{
	Use:   "ragdex",
	Short: "Document question answering over an in-memory corpus",
	Long: `ragdex ingests documents (pdf, docx, xlsx, markdown, html, text, web pages),
splits them into overlapping chunks, embeds them and answers questions with
hybrid retrieval and grounded generation.

Without a subcommand it runs the HTTP server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "config environment (config/<env>.yaml), defaults to $ENV or local")
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveEnv returns the --env flag or the ENV variable.
func resolveEnv() string {
	if envName != "" {
		return envName
	}
	return config.GetEnv()
}
