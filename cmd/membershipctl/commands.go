package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/facility-membership/internal/config"
	"github.com/iliyamo/facility-membership/internal/database"
	"github.com/iliyamo/facility-membership/internal/model"
	"github.com/iliyamo/facility-membership/internal/repository"
	"github.com/iliyamo/facility-membership/internal/utils"
)

// openDB is replaced in tests.
var openDB = func() (*sql.DB, error) {
	cfg := config.Load()
	return database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "membershipctl",
		Short:         "Facility membership admin tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newHashPasswordCmd(), newCreateUserCmd(), newMigrateCmd())
	return root
}

func newHashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash of a password (read from stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plain, err := passwordArg(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			hash, err := utils.NewHasher(cost).Hash(plain)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", utils.DefaultBcryptCost, "bcrypt cost")
	return cmd
}

func newCreateUserCmd() *cobra.Command {
	var (
		email, name, role, password string
		cost                        int
	)
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create an active staff account",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, ok := model.ParseRole(role)
			if !ok {
				return fmt.Errorf("unknown role %q", role)
			}
			if strings.TrimSpace(name) == "" {
				return errors.New("--name is required")
			}
			if password == "" {
				p, err := passwordArg(cmd.InOrStdin(), nil)
				if err != nil {
					return err
				}
				password = p
			}
			if err := utils.ValidatePasswordStrength(password); err != nil {
				return err
			}
			hash, err := utils.NewHasher(cost).Hash(password)
			if err != nil {
				return err
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			u := &model.User{
				Email:        model.NormalizeEmail(email),
				PasswordHash: hash,
				DisplayName:  strings.TrimSpace(name),
				Role:         r,
				IsActive:     true,
			}
			if err := repository.NewUserRepo(db).Create(ctx, u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %d (%s, %s)\n", u.ID, u.Email, u.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", string(model.RoleAdmin), "admin, reception or instructor")
	cmd.Flags().StringVar(&password, "password", "", "password (read from stdin when omitted)")
	cmd.Flags().IntVar(&cost, "cost", utils.DefaultBcryptCost, "bcrypt cost")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d statements\n", len(database.Statements()))
			return nil
		},
	}
}

// passwordArg returns the positional password or the first line of in.
func passwordArg(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}
