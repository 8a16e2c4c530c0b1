package runtime

import (
	"fmt"

	"github.com/risor-io/risor/object"
)

// extractMap converts a Risor map (or a proxied Go map) into a Go map.
func extractMap(obj object.Object) (map[string]any, error) {
	switch o := obj.(type) {
	case *object.Map:
		m, ok := o.Interface().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected map, got %T", o.Interface())
		}
		return m, nil
	case *object.Proxy:
		m, ok := o.Interface().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected map, got %T", o.Interface())
		}
		return m, nil
	}
	return nil, fmt.Errorf("expected map, got %s", obj.Type())
}
