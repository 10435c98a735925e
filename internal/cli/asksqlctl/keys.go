package asksqlctl

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/99designs/keyring"
	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

const (
	ServiceName = "asksql"
	keyItem     = "llm_api_key"
)

// KeyStore is the subset of keyring.Keyring the CLI uses.
type KeyStore interface {
	Get(key string) (keyring.Item, error)
	Set(item keyring.Item) error
	Remove(key string) error
}

// OpenKeyring opens the OS keyring for the asksql service.
func OpenKeyring() (KeyStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              ServiceName,
		PassPrefix:               ServiceName,
		WinCredPrefix:            ServiceName,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return ring, nil
}

// PromptPassword reads a secret from the terminal.
func PromptPassword(message string) (string, error) {
	var secret string
	if err := survey.AskOne(&survey.Password{Message: message}, &secret, survey.WithValidator(survey.Required)); err != nil {
		return "", err
	}
	return secret, nil
}

// resolveKey prefers the --api-key flag and falls back to the keyring.
// Lookup failures are not fatal because the server may hold its own key.
func (c *cli) resolveKey() string {
	if key := strings.TrimSpace(c.apiKey); key != "" {
		return key
	}
	store, err := c.keys()
	if err != nil {
		return ""
	}
	item, err := store.Get(keyItem)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(item.Data))
}

func (c *cli) keys() (KeyStore, error) {
	if c.opts.Keys == nil {
		return nil, errors.New("keyring is not available")
	}
	return c.opts.Keys()
}

func (c *cli) keyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the LLM API key stored in the OS keyring",
	}
	cmd.AddCommand(c.keySetCommand(), c.keyClearCommand(), c.keyValidateCommand())
	return cmd
}

func (c *cli) keySetCommand() *cobra.Command {
	var skipValidation bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Validate and store an API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := strings.TrimSpace(c.apiKey)
			if key == "" {
				if c.opts.PromptSecret == nil {
					return failed("no API key given and no interactive prompt available")
				}
				entered, err := c.opts.PromptSecret("LLM API key:")
				if err != nil {
					return failed("read API key: %v", err)
				}
				key = strings.TrimSpace(entered)
			}
			if key == "" {
				return failed("API key is required")
			}
			if !skipValidation {
				if err := c.validate(cmd, key); err != nil {
					return err
				}
			}
			store, err := c.keys()
			if err != nil {
				return failed("%v", err)
			}
			if err := store.Set(keyring.Item{Key: keyItem, Data: []byte(key), Label: "asksql LLM API key"}); err != nil {
				return failed("store API key: %v", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "API key saved to the keyring")
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipValidation, "no-validate", false, "store the key without checking it against the provider")
	return cmd
}

func (c *cli) keyClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.keys()
			if err != nil {
				return failed("%v", err)
			}
			if err := store.Remove(keyItem); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
				return failed("remove API key: %v", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "API key removed from the keyring")
			return nil
		},
	}
}

func (c *cli) keyValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the stored (or --api-key) key against the provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := c.resolveKey()
			if key == "" {
				return failed("no API key configured; run `asksql key set`")
			}
			if err := c.validate(cmd, key); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "API key is valid")
			return nil
		},
	}
}

func (c *cli) validate(cmd *cobra.Command, key string) error {
	payload := map[string]string{"gemini_api_key": key}
	_, raw, err := c.request(cmd.Context(), http.MethodPost, "/v1/credentials/validate", payload, "", false)
	if err != nil {
		return err
	}
	var result struct {
		Valid   bool   `json:"valid"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return failed("decode validation response: %s", errorMessage(raw))
	}
	if !result.Valid {
		return failed("API key rejected: %s", result.Message)
	}
	return nil
}
