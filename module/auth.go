package module

import (
	"context"
	"fmt"

	"github.com/bknd-io/bknd/schema"
)

// AuthModule holds the authentication configuration. Its JWT secret is a
// secret-typed property and never lands in the persisted tree.
type AuthModule struct {
	*Base
}

// NewAuthModule is the factory registered under KeyAuth.
func NewAuthModule(deps Dependencies) (Module, error) {
	return &AuthModule{Base: NewBase(KeyAuth, authSchema(), deps.Logger)}, nil
}

func authSchema() schema.Schema {
	return schema.Schema{
		Properties: map[string]schema.Property{
			"enabled": {Type: "bool", Default: false},
			"jwt": {Type: "object", Properties: map[string]schema.Property{
				"secret": {Type: "string", Secret: true, Description: "JWT signing secret"},
				"expiry": {Type: "int", Default: 3600, Minimum: intp(1)},
				"issuer": {Type: "string", Default: "bknd"},
			}},
			"allow_register": {Type: "bool", Default: true},
		},
	}
}

// Build declares the auth permissions when the module is enabled.
func (a *AuthModule) Build(_ context.Context, rc *Context) (BuildResult, error) {
	if boolAt(a.Config(), "enabled") {
		rc.Guard.Register(KeyAuth, "login", "register", "me")
	}
	return BuildResult{}, nil
}

// OnBeforeUpdate vetoes enabling authentication without a signing secret:
// a live runtime with unverifiable tokens is worse than a failed save.
func (a *AuthModule) OnBeforeUpdate(_, newCfg map[string]any) error {
	if !boolAt(newCfg, "enabled") {
		return nil
	}
	if stringAt(newCfg, "jwt", "secret") == "" {
		return fmt.Errorf("auth cannot be enabled without jwt.secret")
	}
	return nil
}
