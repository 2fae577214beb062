package cmd

import (
	"fmt"
	"time"

	"devsync-server/config"
	"devsync-server/core"
	"devsync-server/handlers/auth"

	"github.com/spf13/cobra"
)

var (
	flagUser  string
	flagLogin string
	flagName  string
	flagTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a signed access token for a user",
	Long: `Sign a token with JWT_SECRET, for local testing against a running server.

Examples:
  devsync token --user 01HZX3 --login alice
  devsync token --user 01HZX3 --ttl 1h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}
		token, err := auth.NewAuthenticator(cfg.JWTSecret).Issue(&core.Identity{
			UserID: flagUser,
			Login:  flagLogin,
			Name:   flagName,
		}, flagTTL)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	tokenCmd.Flags().StringVar(&flagUser, "user", "", "user id placed in the token subject")
	tokenCmd.Flags().StringVar(&flagLogin, "login", "", "login name")
	tokenCmd.Flags().StringVar(&flagName, "name", "", "display name")
	tokenCmd.Flags().DurationVar(&flagTTL, "ttl", auth.DefaultTTL, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}
