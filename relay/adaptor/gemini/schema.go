package gemini

// unsupportedSchemaFields lists JSON Schema keywords the upstream function
// declaration parser rejects. They are stripped recursively before the
// payload is sent.
var unsupportedSchemaFields = map[string]struct{}{
	"exclusiveMaximum": {},
	"exclusiveMinimum": {},
	"const":            {},
	"examples":         {},
	"contentEncoding":  {},
	"contentMediaType": {},
	"if":               {},
	"then":             {},
	"else":             {},
	"allOf":            {},
	"anyOf":            {},
	"oneOf":            {},
	"not":              {},
	"definitions":      {},
	"$schema":          {},
	"$id":              {},
	"$ref":             {},
	"$comment":         {},
	"readOnly":         {},
	"writeOnly":        {},
}

// CleanJSONSchema returns a deep copy of the schema with unsupported keywords
// removed at every nesting level. Non-map values pass through unchanged.
func CleanJSONSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	return cleanSchemaValue(schema).(map[string]any)
}

func cleanSchemaValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		cleaned := make(map[string]any, len(v))
		for key, inner := range v {
			if _, drop := unsupportedSchemaFields[key]; drop {
				continue
			}
			cleaned[key] = cleanSchemaValue(inner)
		}
		return cleaned
	case []any:
		cleaned := make([]any, len(v))
		for i, inner := range v {
			cleaned[i] = cleanSchemaValue(inner)
		}
		return cleaned
	default:
		return v
	}
}
