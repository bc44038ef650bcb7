package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/spotpay-billing/internal/auth"
)

var (
	tokenVendor string
	tokenRole   string
	tokenSecret string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token for the wallet routes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		secret := getStringFlag(tokenSecret, cfg.Security.JWTSecret)
		if secret == "" {
			return errors.New("no jwt secret configured")
		}

		token, err := auth.NewJWTTokenGenerator(secret, cfg.Security.AccessTokenTTL).GenerateAccessToken(tokenVendor, tokenRole)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenVendor, "vendor", "", "Vendor the token acts for")
	tokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleVendor, "Token role (vendor, operator)")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "Signing secret (overrides config)")

	rootCmd.AddCommand(tokenCmd)
}
