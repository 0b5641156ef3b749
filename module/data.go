package module

import (
	"context"
	"sort"

	"github.com/bknd-io/bknd/entity"
	"github.com/bknd-io/bknd/schema"
)

// DataModule holds the entity definitions. During build it installs the
// entity manager on the runtime context and raises SyncRequired when the
// database schema no longer matches the configured entities.
type DataModule struct {
	*Base
}

// NewDataModule is the factory registered under KeyData.
func NewDataModule(deps Dependencies) (Module, error) {
	return &DataModule{Base: NewBase(KeyData, dataSchema(), deps.Logger)}, nil
}

func dataSchema() schema.Schema {
	return schema.Schema{
		Properties: map[string]schema.Property{
			// entity definitions are free-form: their shape is owned by
			// the data layer, not re-validated here
			"entities": {Type: "object", Default: map[string]any{}},
		},
	}
}

// Build derives entity definitions from the configuration, installs the
// entity manager, and probes whether a schema sync is needed.
func (d *DataModule) Build(ctx context.Context, rc *Context) (BuildResult, error) {
	defs := d.definitions()
	if rc.DB == nil {
		if len(defs) > 0 {
			d.Logger().Warn("entities configured but no database connection is available")
		}
		return BuildResult{}, nil
	}

	em := entity.NewSQLManager(rc.DB, defs)
	rc.Entities = em
	if len(defs) == 0 {
		return BuildResult{}, nil
	}

	cs, err := em.Schema().Sync(ctx, entity.SyncOptions{DryRun: true})
	if err != nil {
		return BuildResult{}, err
	}
	if !cs.Empty() {
		d.Logger().Debug("entity schema drift detected",
			"created", cs.CreatedTables,
			"altered", cs.AlteredTables)
	}
	return BuildResult{SyncRequired: !cs.Empty()}, nil
}

// definitions converts the configured entities tree into entity
// definitions, in deterministic order. An id primary key is implied when
// an entity declares none.
func (d *DataModule) definitions() []entity.Definition {
	entities, ok := d.Config()["entities"].(map[string]any)
	if !ok || len(entities) == 0 {
		return nil
	}

	names := make([]string, 0, len(entities))
	for name := range entities {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]entity.Definition, 0, len(names))
	for _, name := range names {
		spec, _ := entities[name].(map[string]any)
		fields, _ := spec["fields"].(map[string]any)

		fieldNames := make([]string, 0, len(fields))
		for fname := range fields {
			fieldNames = append(fieldNames, fname)
		}
		sort.Strings(fieldNames)

		def := entity.Definition{Name: name}
		hasPrimary := false
		for _, fname := range fieldNames {
			fspec, _ := fields[fname].(map[string]any)
			ftype, _ := fspec["type"].(string)
			required, _ := fspec["required"].(bool)
			primary, _ := fspec["primary"].(bool)
			if primary {
				hasPrimary = true
			}
			def.Fields = append(def.Fields, entity.Field{
				Name:     fname,
				Type:     fieldType(ftype),
				Required: required,
				Primary:  primary,
			})
		}
		if !hasPrimary {
			def.Fields = append([]entity.Field{{Name: "id", Type: "int", Primary: true}}, def.Fields...)
		}
		defs = append(defs, def)
	}
	return defs
}

// fieldType maps configured field types onto the entity layer's types.
func fieldType(t string) string {
	switch t {
	case "integer", "number", "int":
		return "int"
	case "float", "decimal":
		return "float"
	case "boolean", "bool":
		return "bool"
	case "json", "jsonb":
		return "json"
	case "date", "datetime", "timestamp":
		return "date"
	default:
		// text, string, enum and anything unknown persist as text
		return "string"
	}
}
