package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/capability"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/internal/transport"
)

var operatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Manage operator accounts",
}

var (
	operatorEmail    string
	operatorPassword string
	operatorRoles    []string
)

var operatorAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an operator",
	Long: `Create an operator who signs in with email and password. Use it to
bootstrap the first admin when auth.allow_signup is off.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		if cfg.Database.URL == "" {
			return errors.New("operator add: database.url is not configured")
		}

		email := strings.ToLower(strings.TrimSpace(operatorEmail))
		if email == "" || operatorPassword == "" {
			return errors.New("operator add: --email and --password are required")
		}

		evaluator, err := capability.NewStaticPolicyEvaluator(cfg.Capability.StaticPolicyFile)
		if err != nil {
			return fmt.Errorf("static policy: %w", err)
		}
		known := evaluator.Roles()
		for _, role := range operatorRoles {
			if !slices.Contains(known, role) {
				return fmt.Errorf("operator add: unknown role %q", role)
			}
		}

		pg, err := store.NewPGStore(cmd.Context(), cfg.Database)
		if err != nil {
			return fmt.Errorf("operator add: %w", err)
		}
		defer pg.Close()

		accounts := transport.NewAccounts(pg, nil, nil, cfg.Auth, zap.NewNop(), nil)
		hash, err := accounts.HashPassword(operatorPassword)
		if err != nil {
			return fmt.Errorf("operator add: %w", err)
		}

		op, err := pg.CreateOperator(cmd.Context(), store.Operator{
			Email:        email,
			PasswordHash: hash,
			Roles:        operatorRoles,
		})
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("operator add: %s already exists", email)
		}
		if err != nil {
			return fmt.Errorf("operator add: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "operator %s created (%s)\n", op.Email, op.ID)
		return nil
	},
}

func init() {
	operatorAddCmd.Flags().StringVar(&operatorEmail, "email", "", "operator email")
	operatorAddCmd.Flags().StringVar(&operatorPassword, "password", "", "operator password")
	operatorAddCmd.Flags().StringSliceVar(&operatorRoles, "role", []string{"admin"}, "role to grant, repeatable")
	operatorCmd.AddCommand(operatorAddCmd)
}
