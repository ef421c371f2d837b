package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the keyring service name used when none is configured.
const DefaultKeyringService = "cosrepo"

// KeyringSource reads account credentials from the OS keyring (macOS Keychain,
// Linux Secret Service, Windows Credential Manager). Each account stores two
// items under the service: "<account>/secret_id" and "<account>/secret_key".
type KeyringSource struct {
	name     string
	service  string
	accounts []string
}

// NewKeyringSourceFactory creates a keyring source from configuration
func NewKeyringSourceFactory(name string, config map[string]interface{}) (Source, error) {
	service := configString(config, "service")
	if service == "" {
		service = DefaultKeyringService
	}
	accounts := configStrings(config, "accounts")
	if len(accounts) == 0 {
		return nil, fmt.Errorf("missing required 'accounts' list for keyring source")
	}
	return NewKeyringSource(name, service, accounts), nil
}

// NewKeyringSource creates a keyring source for the given accounts
func NewKeyringSource(name, service string, accounts []string) *KeyringSource {
	return &KeyringSource{name: name, service: service, accounts: accounts}
}

// Name returns the source name
func (k *KeyringSource) Name() string {
	return k.name
}

// Load reads every configured account. Accounts with no keyring items are skipped;
// accounts with only one of the two items are an error.
func (k *KeyringSource) Load(ctx context.Context) (map[string]Entry, error) {
	out := make(map[string]Entry, len(k.accounts))
	for _, account := range k.accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id, idErr := k.get(account, KeySecretID)
		key, keyErr := k.get(account, KeySecretKey)
		if err := errors.Join(idErr, keyErr); err != nil {
			return nil, err
		}

		switch {
		case id == "" && key == "":
			continue
		case id == "" || key == "":
			return nil, fmt.Errorf("keyring service %s holds an incomplete credential pair for account %s", k.service, account)
		}

		out[account] = Entry{Account: account, SecretID: id, SecretKey: key}
	}
	return out, nil
}

func (k *KeyringSource) get(account, field string) (string, error) {
	v, err := keyring.Get(k.service, account+"/"+field)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("keyring lookup %s/%s failed: %w", account, field, err)
	}
	return v, nil
}
