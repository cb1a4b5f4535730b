package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/sekripgabut/internal/token"
	"github.com/telhawk-systems/sekripgabut/pkg/output"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Bearer token utilities",
}

var tokenInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Decode the configured token's claims (signature is not checked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Auth.Token == "" {
			return errors.New("no token configured (auth.token or SEKRIPGABUT_AUTH_TOKEN)")
		}
		info, err := token.Inspect(cfg.Auth.Token)
		if errors.Is(err, token.ErrNotJWT) {
			output.Warn("Token is not a JWT; nothing to inspect")
			return nil
		}
		if err != nil {
			return err
		}
		if ok, err := output.Structured(outputFormat(cmd), info); ok {
			return err
		}

		now := time.Now()
		output.Info("Subject:  %s", info.Subject)
		output.Info("Issuer:   %s", info.Issuer)
		if len(info.Audience) > 0 {
			output.Info("Audience: %v", info.Audience)
		}
		if info.IssuedAt != nil {
			output.Info("Issued:   %s", info.IssuedAt.Format(time.RFC3339))
		}
		switch {
		case info.ExpiresAt == nil:
			output.Info("Expires:  never")
		case info.Expired(now):
			output.Error("Expired:  %s", info.ExpiresAt.Format(time.RFC3339))
		default:
			output.Success("Expires:  %s (in %s)", info.ExpiresAt.Format(time.RFC3339), info.Remaining(now).Round(time.Minute))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenInspectCmd)
}
