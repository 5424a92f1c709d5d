package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"opd-copilot/internal/pipeline"
)

const jsonOnlySuffix = "\n\nIMPORTANT: Output ONLY valid JSON, no other text."

var errMalformed = errors.New("malformed model output")

// CompleteJSON runs Complete and decodes the reply into out, which must be
// a pointer to a struct. When the reply is not a JSON object and parse
// retries are enabled, the request is repeated once with an explicit
// instruction to answer in JSON only. A reply that still fails to parse is
// a fatal error.
func (c *Client) CompleteJSON(ctx context.Context, callType, system, user string, maxTokens int, out any) error {
	raw, err := c.Complete(ctx, callType, system, user, maxTokens)
	if err != nil {
		return err
	}
	perr := decodeObject(raw, out)
	if perr == nil {
		return nil
	}
	if !c.cfg.ParseRetry {
		return fmt.Errorf("%s: %w: %w", callType, pipeline.ErrFatal, perr)
	}

	c.log.Warn().Err(perr).Str("call_type", callType).Msg("llm response parse failed, retrying")
	raw, err = c.Complete(ctx, callType, system, user+jsonOnlySuffix, maxTokens)
	if err != nil {
		return err
	}
	if perr = decodeObject(raw, out); perr != nil {
		return fmt.Errorf("%s: after retry: %w: %w", callType, pipeline.ErrFatal, perr)
	}
	return nil
}

// cleanJSON strips a surrounding markdown code fence and whitespace.
func cleanJSON(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		if i := strings.IndexByte(cleaned, '\n'); i >= 0 {
			cleaned = cleaned[i+1:]
		}
	}
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}

func decodeObject(raw string, out any) error {
	cleaned := cleanJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return fmt.Errorf("%w: expected a JSON object", errMalformed)
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}

// text decodes any JSON scalar into a trimmed string. Models answer
// "age": 45 as readily as "age": "45"; null decodes to "".
type text string

func (t *text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = text(strings.TrimSpace(s))
	case len(data) > 0 && (data[0] == '{' || data[0] == '['):
		return fmt.Errorf("expected a scalar, got %s", data)
	default:
		if _, err := strconv.ParseFloat(string(data), 64); err != nil && string(data) != "true" && string(data) != "false" {
			return fmt.Errorf("unexpected scalar %s", data)
		}
		*t = text(data)
	}
	return nil
}

// texts decodes a JSON array of scalars, skipping blanks. A null or a
// non-array value decodes to an empty list.
type texts []string

func (ts *texts) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		*ts = texts{}
		return nil
	}
	out := make(texts, 0, len(items))
	for _, item := range items {
		var t text
		if err := t.UnmarshalJSON(item); err != nil {
			continue
		}
		if t != "" {
			out = append(out, string(t))
		}
	}
	*ts = out
	return nil
}

func (ts texts) list() []string {
	if ts == nil {
		return []string{}
	}
	return []string(ts)
}
