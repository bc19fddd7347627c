// Command identityctl operates a goIdentity deployment: schema migrations,
// password hashes, role grants, session administration and a session
// store load test.
//
// Every command except loadtest reads GOIDENTITY_* variables through
// goIdentity.LoadConfigFromEnv.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/storage/postgres"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "identityctl",
		Short:         "Operate a goIdentity deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newHashPasswordCommand())
	cmd.AddCommand(newGrantRoleCommand())
	cmd.AddCommand(newSessionsCommand())
	cmd.AddCommand(newLoadtestCommand())
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := goIdentity.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.Migrate(ctx, postgres.SQLDB(pool)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its argon2id hash",
		Long: "Reads one line from stdin and prints the PHC encoded hash using the " +
			"GOIDENTITY_PASSWORD_* costs. Useful for seeding accounts by hand.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := goIdentity.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			return hashPassword(cfg.Password, cmd)
		},
	}
}

func hashPassword(cfg goIdentity.PasswordConfig, cmd *cobra.Command) error {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return errors.New("empty password")
	}

	hasher, err := cfg.Hasher()
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(pw)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}

func newGrantRoleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "grant-role USER_ID ROLE",
		Short: "Add a role to a user; it applies from the next token refresh",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := goIdentity.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := postgres.NewStore(postgres.SQLDB(pool))
			if err := store.GrantRole(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s\n", args[1], args[0])
			return nil
		},
	}
}

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and revoke user sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list USER_ID",
		Short: "Print a user's live sessions as JSON, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(func(cmd *cobra.Command, engine *goIdentity.Engine, args []string) error {
			sessions, err := engine.ListSessions(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sessions)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke USER_ID SESSION_ID",
		Short: "Revoke one session",
		Args:  cobra.ExactArgs(2),
		RunE: withEngine(func(cmd *cobra.Command, engine *goIdentity.Engine, args []string) error {
			if err := engine.RevokeSession(commandContext(cmd), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "revoked")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke-all USER_ID",
		Short: "Revoke every session of a user",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(func(cmd *cobra.Command, engine *goIdentity.Engine, args []string) error {
			n, err := engine.RevokeAllSessions(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d sessions\n", n)
			return nil
		}),
	})

	return cmd
}
