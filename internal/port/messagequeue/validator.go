package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case subject == SubjectControl:
		var p ControlPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.RunID == "" {
			return fmt.Errorf("schema validation failed for %s: run_id is required", subject)
		}
		if !validActions[p.Action] {
			return fmt.Errorf("schema validation failed for %s: unknown action %q", subject, p.Action)
		}
		if p.Action == ActionApply && p.Settings == nil {
			return fmt.Errorf("schema validation failed for %s: apply needs settings", subject)
		}
	case strings.HasPrefix(subject, SubjectEvents+"."):
		var p EventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	}
	return nil
}
