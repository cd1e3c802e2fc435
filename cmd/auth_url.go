package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxrelay/internal/config"
	"github.com/teemow/inboxrelay/internal/credstore"
	"github.com/teemow/inboxrelay/internal/google"
)

func newAuthURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth-url",
		Short: "Print the Google consent URL",
		Long: `Print the Google consent URL built from GOOGLE_CLIENT_ID and
OAUTH_REDIRECT_URI. Opening it and granting access sends the browser to the
relay's /auth/callback, which stores the credentials.

When OAUTH_STATE_SECRET is set the URL carries a signed state that the
running server accepts for the next ten minutes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			authURL, err := buildAuthURL(config.Load(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), authURL)
			return nil
		},
	}
}

func buildAuthURL(cfg config.Config, now time.Time) (string, error) {
	oauth, err := google.NewOAuth(google.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
	})
	if err != nil {
		return "", err
	}

	var state string
	if cfg.StateSecret != "" {
		signer, err := google.NewStateSigner(cfg.StateSecret, google.DefaultStateMaxAge)
		if err != nil {
			return "", err
		}
		if state, err = signer.Issue(now); err != nil {
			return "", err
		}
	}
	return oauth.AuthURL(state), nil
}

func newGenerateKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-key",
		Short: "Print a random base64 key for TOKEN_ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := credstore.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
