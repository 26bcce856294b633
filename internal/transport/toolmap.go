package transport

import "strings"

// sdkToServerTool maps SDK verbs used by callers of Transport.ExecuteTool
// to the remote browser server's tool names. Verbs not present here
// default to "browser_<verb>" per §4.1.
var sdkToServerTool = map[string]string{
	"navigate":           "browser_navigate",
	"click":              "browser_click",
	"type":               "browser_type",
	"reload":             "browser_reload",
	"wait":               "browser_wait",
	"wait_for_selector":  "browser_wait_for_selector",
	"query_page":         "browser_query_page",
	"summarize_page":     "browser_summarize_page",
	"screenshot":         "browser_screenshot",
	"get_cookies":        "browser_get_cookies",
	"set_cookies":        "browser_set_cookies",
	"set_headers":        "browser_set_headers",
	"evaluate":           "browser_evaluate",
	"natural_language_action": "browser_natural_language_action",
}

// fieldNameOverrides maps SDK parameter field names to the server's field
// names for tools whose wire shape differs from the SDK's. Keys not
// present pass through unchanged.
var fieldNameOverrides = map[string]string{
	"url":      "url",
	"selector": "selector",
	"text":     "text",
	"timeoutMs": "timeout_ms",
}

// longRunningTools are tools whose base timeout is multiplied per §4.1
// ("Long-running timeout applies to tool names flagged as long").
var longRunningTools = map[string]bool{
	"navigate":                true,
	"reload":                  true,
	"wait":                    true,
	"wait_for_selector":       true,
	"query_page":              true,
	"summarize_page":          true,
	"natural_language_action": true,
	"solve_captcha":           true,
	"solve_recaptcha":         true,
	"solve_hcaptcha":          true,
	"solve_turnstile":         true,
}

// serverToolName resolves the wire tool name for an SDK verb.
func serverToolName(verb string) string {
	if name, ok := sdkToServerTool[verb]; ok {
		return name
	}
	return "browser_" + verb
}

// mapParams renames SDK field names to their server equivalents; keys
// with no override pass through unchanged.
func mapParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		if mapped, ok := fieldNameOverrides[k]; ok {
			out[mapped] = v
			continue
		}
		out[k] = v
	}
	return out
}

// isLongRunning reports whether verb needs the long-running timeout.
func isLongRunning(verb string) bool {
	return longRunningTools[strings.ToLower(verb)]
}

// headerParams extracts the "headers" field of a set_headers call as a
// map[string]string for security.ValidateHeaders, tolerating both the
// map[string]string shape Go callers build directly and the
// map[string]interface{} shape a JSON-decoded request produces.
func headerParams(params map[string]interface{}) map[string]string {
	raw, ok := params["headers"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case map[string]string:
		return v
	case map[string]interface{}:
		out := make(map[string]string, len(v))
		for k, val := range v {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}
