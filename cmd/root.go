package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the inboxrelay application
var rootCmd = &cobra.Command{
	Use:   "inboxrelay",
	Short: "Relays recent Gmail messages through a small authorized HTTP API",
	Long: `inboxrelay performs Google OAuth2 authorization for Gmail, stores the
resulting tokens per email address, and serves summaries (subject, sender,
date, snippet) of recent inbox messages over HTTP.

Expired access tokens are refreshed transparently with the stored refresh token.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadDotEnv(envFile)
	},
}

// version will be set by main
var version = "dev"

// envFile is the optional dotenv file read before configuration is loaded.
var envFile string

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "inboxrelay version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads path into the environment without overriding variables
// that are already set. A missing default file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && path == defaultEnvFile {
		return nil
	}
	return godotenv.Load(path)
}

const defaultEnvFile = ".env"

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "Dotenv file loaded before reading the environment (empty to skip)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAuthURLCmd())
	rootCmd.AddCommand(newGenerateKeyCmd())
	rootCmd.AddCommand(newVersionCmd())
}
