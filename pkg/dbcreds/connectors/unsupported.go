package connectors

import (
	"context"
	"fmt"
	"time"
)

// Unsupported satisfies dbcreds.Connector for a plugin tag with no driver
// available anywhere in the retrieved example pack (sqlserver, mongodb,
// oracle, cassandra, elasticsearch). Rather than fabricate a client behind
// a replace directive, every operation returns ConnectorError via the
// caller's ierrors.Wrap, naming the plugin so operators know which driver
// would need to be vendored to enable it.
type Unsupported struct {
	Plugin string
}

// NewUnsupported constructs a stub connector for the named plugin tag.
func NewUnsupported(plugin string) *Unsupported {
	return &Unsupported{Plugin: plugin}
}

func (u *Unsupported) err(op string) error {
	return fmt.Errorf("dbcreds: plugin %q has no connector implementation (%s)", u.Plugin, op)
}

func (u *Unsupported) VerifyConnection(_ context.Context, _, _, _ string) error {
	return u.err("verify-connection")
}

func (u *Unsupported) CreateDynamicUser(_ context.Context, _, _, _, _, _, _ string, _ time.Duration) error {
	return u.err("create-dynamic-user")
}

func (u *Unsupported) RevokeDynamicUser(_ context.Context, _, _, _, _, _ string) error {
	return u.err("revoke-dynamic-user")
}

func (u *Unsupported) RotateRootCredentials(_ context.Context, _, _, _, _ string) error {
	return u.err("rotate-root-credentials")
}
