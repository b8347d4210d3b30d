package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Policy snapshots ride along on proposals as immutable JSON. The schema
// guards against a malformed or truncated snapshot reaching execution.
const snapshotSchemaJSON = `{
  "type": "object",
  "required": ["confidence_level", "order_limit_eur", "trading_enabled", "allowlist"],
  "properties": {
    "confidence_level": {
      "type": "string",
      "enum": ["TRAINING", "VALIDATED", "PRODUCTION", "MATURE"]
    },
    "order_limit_eur": {"type": ["number", "string"]},
    "trading_enabled": {"type": "boolean"},
    "allowlist": {"type": "array", "items": {"type": "string"}},
    "cooldown_minutes": {"type": "integer", "minimum": 0},
    "anti_flip_minutes": {"type": "integer", "minimum": 0},
    "confidence_threshold": {"type": "integer", "minimum": 0, "maximum": 100},
    "daily_budget": {"type": "integer", "minimum": 0},
    "hourly_budget": {"type": "integer", "minimum": 0}
  }
}`

var snapshotSchema = mustCompileSnapshotSchema()

func mustCompileSnapshotSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("policy_snapshot.json", strings.NewReader(snapshotSchemaJSON)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("policy_snapshot.json")
}

// ValidateSnapshot checks a policy snapshot document against the schema.
func ValidateSnapshot(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("policy snapshot is empty")
	}
	var doc interface{}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("policy snapshot is not valid JSON: %w", err)
	}
	if err := snapshotSchema.Validate(doc); err != nil {
		return fmt.Errorf("policy snapshot rejected: %w", err)
	}
	return nil
}
