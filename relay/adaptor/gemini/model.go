package gemini

import "strings"

// ModelVariant decodes the behavior suffixes a client may append to a model
// name. Suffixes stack, e.g. "gemini-2.0-flash-search-non-thinking".
type ModelVariant struct {
	// RealModel is the upstream model name with all suffixes stripped.
	RealModel string
	// RequestModel is the name exactly as the client sent it.
	RequestModel string

	UseSearch   bool
	ImageGen    bool
	NonThinking bool
}

// ParseModelVariant strips behavior suffixes off the requested model name.
func ParseModelVariant(requestModel string) ModelVariant {
	v := ModelVariant{RequestModel: requestModel}
	name := requestModel

	for {
		switch {
		case strings.HasSuffix(name, "-search"):
			v.UseSearch = true
			name = strings.TrimSuffix(name, "-search")
		case strings.HasSuffix(name, "-non-thinking"):
			v.NonThinking = true
			name = strings.TrimSuffix(name, "-non-thinking")
		case strings.HasSuffix(name, "-image-generation"):
			v.ImageGen = true
			name = strings.TrimSuffix(name, "-image-generation")
		case strings.HasSuffix(name, "-image"):
			v.ImageGen = true
			name = strings.TrimSuffix(name, "-image")
		default:
			v.RealModel = name
			return v
		}
	}
}
