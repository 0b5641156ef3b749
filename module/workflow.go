package module

import (
	"context"

	"github.com/bknd-io/bknd/schema"
)

// WorkflowModule holds the workflow definitions. It builds last so flows
// can reference anything the earlier modules registered.
type WorkflowModule struct {
	*Base
}

// NewWorkflowModule is the factory registered under KeyWorkflow.
func NewWorkflowModule(deps Dependencies) (Module, error) {
	return &WorkflowModule{Base: NewBase(KeyWorkflow, workflowSchema(), deps.Logger)}, nil
}

func workflowSchema() schema.Schema {
	return schema.Schema{
		Properties: map[string]schema.Property{
			// flow definitions are free-form, interpreted by the
			// workflow engine itself
			"flows": {Type: "object", Default: map[string]any{}},
		},
	}
}

// Build reports the configured flows.
func (w *WorkflowModule) Build(_ context.Context, _ *Context) (BuildResult, error) {
	flows, _ := w.Config()["flows"].(map[string]any)
	if len(flows) > 0 {
		w.Logger().Debug("workflow module built", "flows", len(flows))
	}
	return BuildResult{}, nil
}
