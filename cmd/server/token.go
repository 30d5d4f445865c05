package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	jwttoken "mkcompany/internal/jwt_token"
	"mkcompany/internal/platform/config"
	id "mkcompany/pkg/domain"
)

// tokenCmd mints an access token with the configured signing key. It stands
// in for the identity provider during local development.
func tokenCmd(configPath *string) *cobra.Command {
	var (
		userID string
		email  string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			subject := id.UserID(uuid.New())
			if userID != "" {
				if subject, err = id.ParseUserID(userID); err != nil {
					return err
				}
			}
			parsedRole, err := id.ParseRole(role)
			if err != nil {
				return err
			}
			svc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
			token, err := svc.GenerateAccessToken(subject, email, parsedRole, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Subject user id (random when empty)")
	cmd.Flags().StringVar(&email, "email", "dev@example.com", "Email claim")
	cmd.Flags().StringVar(&role, "role", string(id.RoleUser), "Role claim (user, moderator, admin, super_admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
