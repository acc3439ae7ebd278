package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/seat-scheduler/internal/auth"
	"github.com/example/seat-scheduler/internal/config"
	"github.com/example/seat-scheduler/internal/crypto"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate COOKIE_HASH_KEY, COOKIE_BLOCK_KEY and CRED_ENC_KEY values (base64)",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, name := range []string{"COOKIE_HASH_KEY", "COOKIE_BLOCK_KEY", "CRED_ENC_KEY"} {
				key := make([]byte, 32)
				if _, err := rand.Read(key); err != nil {
					return err
				}
				fmt.Fprintf(out, "export %s=%s\n", name, base64.StdEncoding.EncodeToString(key))
			}
			return nil
		},
	}
	cmd.AddCommand(newEncryptPasswordCmd())
	return cmd
}

func newEncryptPasswordCmd() *cobra.Command {
	var password string
	c := &cobra.Command{
		Use:   "encrypt-password",
		Short: "Seal a site password for the users file with CRED_ENC_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if len(cfg.CredEncKey) == 0 {
				return errors.New("CRED_ENC_KEY is not set")
			}
			a, err := crypto.New(cfg.CredEncKey)
			if err != nil {
				return err
			}
			sealed, err := a.Seal(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
	c.Flags().StringVar(&password, "password", "", "plaintext site password")
	_ = c.MarkFlagRequired("password")
	return c
}

func newHashPasswordCmd() *cobra.Command {
	var password string
	c := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for OPERATOR_PASSWORD_HASH",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(password) == "" {
				return errors.New("--password must not be blank")
			}
			h, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "export OPERATOR_PASSWORD_HASH='%s'\n", h)
			return nil
		},
	}
	c.Flags().StringVar(&password, "password", "", "operator password")
	_ = c.MarkFlagRequired("password")
	return c
}
