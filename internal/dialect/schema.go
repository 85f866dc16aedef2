package dialect

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// geminiUnsupportedSchemaKeys lists JSON-schema properties Gemini's
// function-declaration schema rejects outright; they're stripped
// (recursively, through "properties" and "items") before a tool
// definition is sent upstream.
var geminiUnsupportedSchemaKeys = []string{
	"additionalProperties",
	"$schema",
	"exclusiveMinimum",
	"exclusiveMaximum",
	"const",
}

// StripUnsupportedSchemaProperties removes keys Gemini's schema
// validator rejects from a tool's inputSchema, recursing into
// "properties" and array "items".
func StripUnsupportedSchemaProperties(schemaJSON []byte) []byte {
	out := schemaJSON
	for _, key := range geminiUnsupportedSchemaKeys {
		out, _ = sjson.DeleteBytes(out, key)
	}
	if props := gjson.GetBytes(out, "properties"); props.IsObject() {
		props.ForEach(func(key, value gjson.Result) bool {
			cleaned := StripUnsupportedSchemaProperties([]byte(value.Raw))
			out, _ = sjson.SetRawBytes(out, "properties."+key.String(), cleaned)
			return true
		})
	}
	if items := gjson.GetBytes(out, "items"); items.Exists() {
		cleaned := StripUnsupportedSchemaProperties([]byte(items.Raw))
		out, _ = sjson.SetRawBytes(out, "items", cleaned)
	}
	return out
}

// geminiParamNameCorrections maps a (toolName, clientParamName) pair
// to the parameter name Gemini's built-in tool schema actually expects;
// Gemini's own Grep/Search/Glob/Read/LS tools use different parameter
// names than the client-facing dialects do for the same concept.
var geminiParamNameCorrections = map[string]map[string]string{
	"Grep":   {"query": "pattern"},
	"Search": {"query": "pattern"},
	"Glob":   {"query": "pattern"},
	"Read":   {"description": "path"},
	"LS":     {"paths": "path"},
}

// CorrectGeminiToolParamNames rewrites a tool call's argument object
// keys for the handful of built-in tools where Gemini disagrees with
// the client dialect on parameter naming.
func CorrectGeminiToolParamNames(toolName string, argsJSON []byte) []byte {
	corrections, ok := geminiParamNameCorrections[toolName]
	if !ok {
		return argsJSON
	}
	out := argsJSON
	for from, to := range corrections {
		val := gjson.GetBytes(out, from)
		if !val.Exists() {
			continue
		}
		out, _ = sjson.SetRawBytes(out, to, []byte(val.Raw))
		out, _ = sjson.DeleteBytes(out, from)
	}
	return out
}
