package kek

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringClientAPI is the subset of zalando/go-keyring this provider needs.
// Kept as an interface so tests can supply an in-memory fake instead of
// touching the real OS keychain.
type KeyringClientAPI interface {
	Get(service, account string) (string, error)
}

type realKeyringClient struct{}

func (realKeyringClient) Get(service, account string) (string, error) {
	return keyring.Get(service, account)
}

// KeyringProvider fetches the KEK from the local OS credential store
// (macOS Keychain, Linux Secret Service, Windows Credential Manager via
// go-keyring's per-platform backends). Intended for local development and
// single-operator deployments rather than multi-node production use.
type KeyringProvider struct {
	Service string
	Account string

	client KeyringClientAPI
}

// KeyringOption configures a keyring-backed KEK provider.
type KeyringOption func(*KeyringProvider)

// WithKeyringClient injects a client; used by tests.
func WithKeyringClient(c KeyringClientAPI) KeyringOption {
	return func(p *KeyringProvider) { p.client = c }
}

// NewKeyringProvider returns a provider reading the KEK from the OS
// keychain entry identified by (service, account).
func NewKeyringProvider(service, account string, opts ...KeyringOption) *KeyringProvider {
	p := &KeyringProvider{Service: service, Account: account}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = realKeyringClient{}
	}
	return p
}

func (p *KeyringProvider) Name() string { return "keyring:" + p.Service + "/" + p.Account }

func (p *KeyringProvider) Fetch(_ context.Context) ([]byte, error) {
	raw, err := p.client.Get(p.Service, p.Account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, fmt.Errorf("%s: no keychain entry found", p.Name())
		}
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	return decodeAndValidate(p.Name(), raw)
}
