package llm

import (
	"encoding/json"

	apperrors "github.com/ngoclaw/agentcore/pkg/errors"
)

// EncodeBody marshals a typed request and merges backend-specific extra
// parameters into the top-level object. Keys already set by the adapter win.
func EncodeBody(req any, extra map[string]any) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("marshal request", err)
	}
	if len(extra) == 0 {
		return body, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(body, &merged); err != nil {
		return nil, apperrors.NewInternalErrorWithCause("merge extra params", err)
	}
	for k, v := range extra {
		if _, taken := merged[k]; taken {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, apperrors.NewConfigurationError("extra param " + k + " is not JSON-encodable")
		}
		merged[k] = raw
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("marshal request", err)
	}
	return out, nil
}
