package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Martian-dev/crm-mail-gateway/internal/auth"
)

var (
	tokenUser  string
	tokenName  string
	tokenEmail string
	tokenRole  string
	tokenTTL   time.Duration
)

var mintTokenCmd = &cobra.Command{
	Use:   "mint-token",
	Short: "Mint a session token signed with auth.hmac_secret",
	Long: `Mint an HS256 session token for local development.

Example:
  crmgw mint-token --user u-1 --role MANAGER --ttl 8h`,
	RunE: runMintToken,
}

func init() {
	mintTokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (token subject)")
	mintTokenCmd.Flags().StringVar(&tokenName, "name", "", "display name")
	mintTokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email address")
	mintTokenCmd.Flags().StringVar(&tokenRole, "role", string(auth.RoleUser), "ADMIN, MANAGER, EMPLOYEE, B2B or USER")
	mintTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	_ = mintTokenCmd.MarkFlagRequired("user")
}

func runMintToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.HMACSecret == "" {
		return errors.New("auth.hmac_secret is not set")
	}
	role, ok := auth.ParseRole(tokenRole)
	if !ok {
		return fmt.Errorf("unknown role %q", tokenRole)
	}

	minter, err := auth.NewMinter([]byte(cfg.Auth.HMACSecret), cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	token, err := minter.Mint(auth.Session{
		UserID: tokenUser,
		Name:   tokenName,
		Email:  tokenEmail,
		Role:   role,
	}, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
