package module

func intp(v int) *int { return &v }

// valueAt walks nested maps along the segments, nil when any hop misses.
func valueAt(cfg map[string]any, segments ...string) any {
	var node any = cfg
	for _, seg := range segments {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return node
}

func boolAt(cfg map[string]any, segments ...string) bool {
	v, _ := valueAt(cfg, segments...).(bool)
	return v
}

func stringAt(cfg map[string]any, segments ...string) string {
	v, _ := valueAt(cfg, segments...).(string)
	return v
}
