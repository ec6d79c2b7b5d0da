package main

import (
	"fmt"
	"strings"

	"github.com/cuongbtq/media-pipeline/internal/api/auth"
	"github.com/cuongbtq/media-pipeline/internal/bootstrap"
	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/spf13/cobra"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var subject, role string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(subject) == "" {
				return fmt.Errorf("--subject is required")
			}
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}

			svc, err := bootstrap.NewJWTService(&ctx.config.Auth)
			if err != nil {
				return err
			}
			token, err := svc.GenerateToken(domain.Actor{ID: subject, Role: r})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Actor id placed in the sub claim")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleMember), "Role: member, editor, steward or admin")
	return cmd
}
