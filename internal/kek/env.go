package kek

import (
	"context"
	"fmt"
	"os"
)

// DefaultEnvVar is the environment variable the default provider reads
// from.
const DefaultEnvVar = "IRONSEAL_KEK"

// EnvProvider reads the KEK from a process environment variable as a
// base64 string of exactly 32 bytes after decode. Absence or wrong length
// is a fatal startup error, and the process never writes the KEK to a
// file itself.
type EnvProvider struct {
	Var string
}

// NewEnvProvider returns a provider reading the given environment
// variable, defaulting to DefaultEnvVar when empty.
func NewEnvProvider(envVar string) *EnvProvider {
	if envVar == "" {
		envVar = DefaultEnvVar
	}
	return &EnvProvider{Var: envVar}
}

func (p *EnvProvider) Name() string { return "env:" + p.Var }

func (p *EnvProvider) Fetch(_ context.Context) ([]byte, error) {
	raw, ok := os.LookupEnv(p.Var)
	if !ok || raw == "" {
		return nil, fmt.Errorf("%s: environment variable %s is not set", p.Name(), p.Var)
	}
	return decodeAndValidate(p.Name(), raw)
}
