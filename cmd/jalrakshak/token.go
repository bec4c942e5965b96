package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Shadan1221/jal-rakshak/pkg/auth"
	"github.com/Shadan1221/jal-rakshak/pkg/ontology"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token",
	Long: `Issue a signed bearer token for a user. The token is signed with
JWT_SECRET and is valid for JWT_EXPIRY_MINUTES.`,
	RunE: runToken,
}

var tokenIdentity ontology.Identity

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenIdentity.ID, "user", "", "user id (a new UUID when empty)")
	tokenCmd.Flags().StringVar(&tokenIdentity.Email, "email", "", "user e-mail")
	tokenCmd.Flags().StringVar(&tokenIdentity.Name, "name", "", "display name")
	tokenCmd.Flags().StringVar(&tokenIdentity.Role, "role", ontology.RoleField, "role: field, supervisor or analyst")
}

func runToken(cmd *cobra.Command, args []string) error {
	if tokenIdentity.ID == "" {
		tokenIdentity.ID = uuid.New().String()
	}

	token, expiresAt, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry).Issue(tokenIdentity)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User:    %s (%s)\n", tokenIdentity.ID, tokenIdentity.Role)
	fmt.Fprintf(out, "Expires: %s\n", expiresAt.Format(time.RFC3339))
	fmt.Fprintln(out, token)
	return nil
}
