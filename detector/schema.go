package detector

import (
	"encoding/json"
	"sort"
)

// FieldChange describes one structural difference between the previous and
// current JSON body: a field that disappeared, appeared, or changed type.
type FieldChange struct {
	Kind    string `json:"kind"` // removed | added | type_changed
	Field   string `json:"field"`
	OldType string `json:"old_type,omitempty"`
	NewType string `json:"new_type,omitempty"`
}

// StructuralSummary compares two bodies as JSON objects and returns a JSON
// array of FieldChange records, sorted by field path.  It returns "" when
// either body is not a JSON object or when the structures match: the summary
// is a best-effort aid, never a detection input.
func StructuralSummary(old, new []byte) string {
	oldSchema, ok := extractSchema(old)
	if !ok {
		return ""
	}
	newSchema, ok := extractSchema(new)
	if !ok {
		return ""
	}

	var changes []FieldChange
	for field, oldType := range oldSchema {
		newType, ok := newSchema[field]
		if !ok {
			changes = append(changes, FieldChange{Kind: "removed", Field: field, OldType: oldType})
			continue
		}
		if newType != oldType {
			changes = append(changes, FieldChange{Kind: "type_changed", Field: field, OldType: oldType, NewType: newType})
		}
	}
	for field, newType := range newSchema {
		if _, ok := oldSchema[field]; !ok {
			changes = append(changes, FieldChange{Kind: "added", Field: field, NewType: newType})
		}
	}
	if len(changes) == 0 {
		return ""
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Field != changes[j].Field {
			return changes[i].Field < changes[j].Field
		}
		return changes[i].Kind < changes[j].Kind
	})
	out, err := json.Marshal(changes)
	if err != nil {
		return ""
	}
	return string(out)
}

// extractSchema flattens a JSON object into dot-separated field paths mapped
// to JSON type names.  Arrays are leaves; their element types are not walked.
func extractSchema(data []byte) (map[string]string, bool) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, false
	}
	s := make(map[string]string)
	flattenSchema(obj, "", s)
	return s, true
}

func flattenSchema(obj map[string]interface{}, prefix string, s map[string]string) {
	for k, v := range obj {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]interface{}:
			s[path] = "object"
			flattenSchema(val, path, s)
		case []interface{}:
			s[path] = "array"
		case string:
			s[path] = "string"
		case float64:
			s[path] = "number"
		case bool:
			s[path] = "bool"
		case nil:
			s[path] = "null"
		default:
			s[path] = "unknown"
		}
	}
}
