package kek

import (
	"context"
	"fmt"

	akeyless "github.com/akeylesslabs/akeyless-go/v3"
)

// AkeylessClientAPI is the subset of the Akeyless SDK this provider needs:
// authenticate with an access ID/key pair, then fetch a secret value by
// path.
type AkeylessClientAPI interface {
	Authenticate(ctx context.Context, accessID, accessKey string) (string, error)
	GetSecretValue(ctx context.Context, token, path string) (string, error)
}

// sdkAkeylessClient adapts the official akeyless-go API client to
// AkeylessClientAPI, mirroring akeylessSDKClient's API-key auth path and
// single-path GetSecretValue call.
type sdkAkeylessClient struct {
	api *akeyless.APIClient
}

func newSDKAkeylessClient(gatewayURL string) *sdkAkeylessClient {
	cfg := akeyless.NewConfiguration()
	cfg.Servers = []akeyless.ServerConfiguration{{URL: gatewayURL}}
	return &sdkAkeylessClient{api: akeyless.NewAPIClient(cfg)}
}

func (c *sdkAkeylessClient) Authenticate(ctx context.Context, accessID, accessKey string) (string, error) {
	authBody := akeyless.NewAuthWithDefaults()
	authBody.SetAccessId(accessID)
	authBody.SetAccessKey(accessKey)

	res, _, err := c.api.V2Api.Auth(ctx).Body(*authBody).Execute()
	if err != nil {
		return "", fmt.Errorf("akeyless auth: %w", err)
	}
	return res.GetToken(), nil
}

func (c *sdkAkeylessClient) GetSecretValue(ctx context.Context, token, path string) (string, error) {
	body := akeyless.NewGetSecretValue([]string{path})
	body.SetToken(token)

	res, _, err := c.api.V2Api.GetSecretValue(ctx).Body(*body).Execute()
	if err != nil {
		return "", err
	}
	value, ok := res[path]
	if !ok {
		return "", fmt.Errorf("akeyless: secret %q not found", path)
	}
	return fmt.Sprintf("%v", value), nil
}

// AkeylessProvider fetches the KEK from an Akeyless static secret item,
// authenticating with an API-key access ID/key pair against a gateway URL.
// Distributed fragments (Akeyless's split-key custody of the secret itself)
// are handled entirely on the Akeyless side; this provider only needs the
// resulting plaintext value.
type AkeylessProvider struct {
	GatewayURL string
	AccessID   string
	AccessKey  string
	Path       string

	client AkeylessClientAPI
}

// AkeylessOption configures an Akeyless-backed KEK provider.
type AkeylessOption func(*AkeylessProvider)

// WithAkeylessClient injects a client; used by tests.
func WithAkeylessClient(c AkeylessClientAPI) AkeylessOption {
	return func(p *AkeylessProvider) { p.client = c }
}

// NewAkeylessProvider returns a provider reading path from the Akeyless
// gateway at gatewayURL, authenticating with the given API-key access
// ID/key pair.
func NewAkeylessProvider(gatewayURL, accessID, accessKey, path string, opts ...AkeylessOption) *AkeylessProvider {
	p := &AkeylessProvider{
		GatewayURL: gatewayURL,
		AccessID:   accessID,
		AccessKey:  accessKey,
		Path:       path,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = newSDKAkeylessClient(gatewayURL)
	}
	return p
}

func (p *AkeylessProvider) Name() string { return "akeyless:" + p.Path }

func (p *AkeylessProvider) Fetch(ctx context.Context) ([]byte, error) {
	token, err := p.client.Authenticate(ctx, p.AccessID, p.AccessKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	value, err := p.client.GetSecretValue(ctx, token, p.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	return decodeAndValidate(p.Name(), value)
}
