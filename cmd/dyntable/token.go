package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dynamic-table/internal/security"
)

var tokenOpts struct {
	subject  string
	username string
	roles    []string
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token signed with security.jwt_secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Security.JWTSecret == "" {
			return errors.New("security.jwt_secret is not set")
		}

		manager := security.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.JWTExpiration)
		token, err := manager.GenerateToken(tokenOpts.subject, tokenOpts.username, tokenOpts.roles)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOpts.subject, "subject", "", "token subject")
	tokenCmd.Flags().StringVar(&tokenOpts.username, "username", "", "display name")
	tokenCmd.Flags().StringSliceVar(&tokenOpts.roles, "roles", []string{security.RoleUploader, security.RoleEditor}, "granted roles")
	_ = tokenCmd.MarkFlagRequired("subject")
	RootCmd.AddCommand(tokenCmd)
}
