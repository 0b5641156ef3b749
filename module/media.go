package module

import (
	"context"
	"fmt"

	"github.com/bknd-io/bknd/schema"
)

// MediaModule holds the media storage adapter configuration. Access keys
// are secret-typed and kept out of the persisted tree.
type MediaModule struct {
	*Base
}

// NewMediaModule is the factory registered under KeyMedia.
func NewMediaModule(deps Dependencies) (Module, error) {
	return &MediaModule{Base: NewBase(KeyMedia, mediaSchema(), deps.Logger)}, nil
}

func mediaSchema() schema.Schema {
	return schema.Schema{
		Properties: map[string]schema.Property{
			"enabled": {Type: "bool", Default: false},
			"adapter": {Type: "object", Properties: map[string]schema.Property{
				"type":              {Type: "string", Enum: []string{"local", "s3"}, Default: "local"},
				"path":              {Type: "string", Default: "./media"},
				"bucket":            {Type: "string"},
				"endpoint":          {Type: "string"},
				"access_key":        {Type: "string", Secret: true},
				"secret_access_key": {Type: "string", Secret: true},
			}},
		},
	}
}

// Build declares the media permissions when the module is enabled.
func (m *MediaModule) Build(_ context.Context, rc *Context) (BuildResult, error) {
	if boolAt(m.Config(), "enabled") {
		rc.Guard.Register(KeyMedia, "upload", "delete", "list")
	}
	return BuildResult{}, nil
}

// OnBeforeUpdate vetoes an s3 adapter without a bucket.
func (m *MediaModule) OnBeforeUpdate(_, newCfg map[string]any) error {
	if !boolAt(newCfg, "enabled") {
		return nil
	}
	if stringAt(newCfg, "adapter", "type") == "s3" && stringAt(newCfg, "adapter", "bucket") == "" {
		return fmt.Errorf("s3 media adapter requires a bucket")
	}
	return nil
}
