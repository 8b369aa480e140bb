package gemini

import (
	"github.com/Laisky/gemini-balance/common/config"
	relaymodel "github.com/Laisky/gemini-balance/relay/model"
)

// defaultSafetySettings disables upstream content filtering across all harm
// categories. CIVIC_INTEGRITY only accepts BLOCK_NONE.
var defaultSafetySettings = []relaymodel.SafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "OFF"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "OFF"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "OFF"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "OFF"},
	{Category: "HARM_CATEGORY_CIVIC_INTEGRITY", Threshold: "BLOCK_NONE"},
}

// flash20ExpSafetySettings is the legacy list for gemini-2.0-flash-exp, which
// rejects the OFF threshold.
var flash20ExpSafetySettings = []relaymodel.SafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_CIVIC_INTEGRITY", Threshold: "BLOCK_NONE"},
}

// SafetySettingsFor returns the safety settings to send upstream for the
// given request model. SAFETY_SETTINGS overrides the default list; the
// gemini-2.0-flash-exp list always wins for that model.
func SafetySettingsFor(requestModel string) []relaymodel.SafetySetting {
	if requestModel == "gemini-2.0-flash-exp" {
		return flash20ExpSafetySettings
	}
	if len(config.SafetySettings) > 0 {
		out := make([]relaymodel.SafetySetting, 0, len(config.SafetySettings))
		for _, s := range config.SafetySettings {
			out = append(out, relaymodel.SafetySetting{Category: s.Category, Threshold: s.Threshold})
		}
		return out
	}
	return defaultSafetySettings
}
