package router

import (
	"math/rand"
	"strconv"
	"strings"
)

// shorthandFixedKeys are lifted verbatim from the shorthand hook into the
// expanded hook object; everything else becomes a check.
var shorthandFixedKeys = []string{"deny", "on_fail", "on_success", "async", "id", "type", "guardrail_version_id"}

// expandHookShorthand rewrites one compact guard-rail/mutator declaration
// into the canonical hook object shape the hook runtime consumes.
// hookType is "guardrail" or "mutator"; kind is "input" or "output".
func expandHookShorthand(shorthand map[string]any, kind, hookType string) HookObject {
	src := make(map[string]any, len(shorthand))
	for k, v := range shorthand {
		src[k] = v
	}

	// The id carries "guardrail" for mutators too — it is a cosmetic label,
	// and the runtime distinguishes guardrails from mutators by shape, not id.
	out := HookObject{
		"id": kind + "_guardrail_" + randomBase36Suffix(),
	}

	for _, key := range shorthandFixedKeys {
		if v, ok := src[key]; ok {
			out[camelCaseKey(key)] = v
			delete(src, key)
		}
	}

	checks := make([]map[string]any, 0, len(src))
	for key, value := range src {
		checkID := key
		if !strings.Contains(key, ".") {
			checkID = "default." + key
		}
		check := map[string]any{
			"id":         checkID,
			"parameters": value,
		}
		if m, ok := value.(map[string]any); ok {
			check["is_enabled"] = m["is_enabled"]
		} else {
			check["is_enabled"] = nil
		}
		checks = append(checks, check)
	}
	out["checks"] = checks

	return out
}

// randomBase36Suffix returns a short, non-unique, cosmetic id suffix. The
// spec explicitly calls this non-deterministic by design — it is a label,
// not an identity, so math/rand is enough (see DESIGN.md).
func randomBase36Suffix() string {
	return strconv.FormatInt(rand.Int63n(60466176), 36) // 36^5
}

// expandShorthandList expands every shorthand entry in a guardrail/mutator
// array of the given kind/hookType.
func expandShorthandList(list []map[string]any, kind, hookType string) []HookObject {
	if len(list) == 0 {
		return nil
	}
	out := make([]HookObject, 0, len(list))
	for _, sh := range list {
		out = append(out, expandHookShorthand(sh, kind, hookType))
	}
	return out
}
