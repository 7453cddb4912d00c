package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// GenerateSchema reflects a JSON Schema from the given Go value, suitable
// for structured-output requests. Additional properties are disallowed
// and definitions are inlined, which is what both provider APIs expect.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return reflector.Reflect(reflect.New(t).Interface())
}

// UnmarshalFlexible parses model-generated JSON into out, tolerating the
// usual failure modes: double-encoded strings, duplicated leading braces,
// unquoted keys, trailing commas, truncated output. It tries strict
// parsing first and escalates to repair only when that fails.
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	// Some models return the object as a JSON string. Unwrap once and
	// retry before repairing.
	var unwrapped string
	if err := json.Unmarshal([]byte(input), &unwrapped); err == nil {
		unwrapped = strings.TrimSpace(unwrapped)
		if err := json.Unmarshal([]byte(unwrapped), out); err == nil {
			return nil
		}
		input = unwrapped
	}

	input = trimDoubledBrace(input)
	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("unmarshal failed after repair: input=%s repaired=%s", input, repaired)
	}
	return nil
}

// trimDoubledBrace drops the outer brace when a response opens with
// "{ {". Repair alone turns that into nested objects, which is worse.
func trimDoubledBrace(s string) string {
	if !strings.HasPrefix(s, "{") {
		return s
	}
	rest := strings.TrimSpace(s[1:])
	if strings.HasPrefix(rest, "{") {
		return rest
	}
	return s
}
