package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/floegence/wakeloop/internal/settings"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the provider API key stored in the state directory",
}

var setKeyCmd = &cobra.Command{
	Use:   "set-key [key]",
	Short: "Store the provider API key (reads stdin when no argument is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := secretsStore()
		if err != nil {
			return err
		}
		var key string
		if len(args) == 1 {
			key = args[0]
		} else if key, err = readSecret(cmd); err != nil {
			return err
		}
		if err := store.SetAPIKey(settings.ProviderOpenRouter, key); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "API key saved to %s\n", store.Path())
		return nil
	},
}

var clearKeyCmd = &cobra.Command{
	Use:   "clear-key",
	Short: "Remove the stored provider API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := secretsStore()
		if err != nil {
			return err
		}
		if err := store.ClearAPIKey(settings.ProviderOpenRouter); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "API key cleared")
		return nil
	},
}

var secretsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether an API key is available",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		stored, err := settings.NewSecretsStore(cfg.SecretsPath()).HasAPIKey(settings.ProviderOpenRouter)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "env %s: %v\n", "OPENROUTER_API_KEY", strings.TrimSpace(cfg.APIKey) != "")
		fmt.Fprintf(out, "secrets file: %v\n", stored)
		return nil
	},
}

func init() {
	secretsCmd.AddCommand(setKeyCmd, clearKeyCmd, secretsStatusCmd)
}

func secretsStore() (*settings.SecretsStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return settings.NewSecretsStore(cfg.SecretsPath()), nil
}

func readSecret(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), "API key: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("no api key on stdin")
	}
	return strings.TrimSpace(line), nil
}
