package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/david/bid-tracker/internal/auth"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the store schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Ping(ctx); err != nil {
			return eris.Wrap(err, "migrate: ping")
		}
		fmt.Fprintf(os.Stdout, "Schema up to date (%s)\n", cfg.Store.Driver)
		return nil
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a password read from stdin for auth.password_hash",
	RunE: func(cmd *cobra.Command, _ []string) error {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return eris.Wrap(err, "hash-password: read stdin")
		}
		hash, err := auth.HashPassword(strings.TrimRight(line, "\r\n"))
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, hashPasswordCmd)
}
