package internal

import "strconv"

// Flatten takes a nested map and returns a new map with the keys flattened
// into a single level, joined with ".". For example, `{"a": {"b": 1}}`
// becomes `{"a.b": 1}`. Arrays keep their whole value under the parent key
// (and a trailing "[]" alias) in addition to indexed child keys, so rules
// can test either form.
func Flatten(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range data {
		flattenInto(out, key, value)
	}
	return out
}

func flattenInto(out map[string]interface{}, path string, value interface{}) {
	switch typed := value.(type) {
	case map[string]interface{}:
		for key, child := range typed {
			flattenInto(out, path+"."+key, child)
		}
	case []interface{}:
		out[path] = typed
		out[path+"[]"] = typed
		for i, child := range typed {
			flattenInto(out, path+"["+strconv.Itoa(i)+"]", child)
		}
	default:
		out[path] = value
	}
}
