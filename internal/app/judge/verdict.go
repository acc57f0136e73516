package judge

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hjwen/counsel-agent/internal/domain"
)

// arbiterVerdict is the JSON object the arbiter is instructed to return.
// Pointers distinguish "absent" from "empty" so a missing field is a parse
// failure, not a silent zero value.
type arbiterVerdict struct {
	Reasoning  *string `json:"reasoning"`
	BestAnswer *string `json:"best_answer"`
}

// ParseVerdict decodes the arbiter's output, tolerating a surrounding fenced
// code block. On failure it returns a VerdictParseError carrying the raw
// text; it never guesses a fallback answer.
func ParseVerdict(raw string) (reasoning, bestAnswer string, err error) {
	s := stripFence(strings.TrimSpace(raw))

	var v arbiterVerdict
	if jsonErr := json.Unmarshal([]byte(s), &v); jsonErr != nil {
		return "", "", &domain.VerdictParseError{Raw: raw, Err: jsonErr}
	}
	if v.Reasoning == nil {
		return "", "", &domain.VerdictParseError{Raw: raw, Err: errors.New(`missing field "reasoning"`)}
	}
	if v.BestAnswer == nil {
		return "", "", &domain.VerdictParseError{Raw: raw, Err: errors.New(`missing field "best_answer"`)}
	}
	return *v.Reasoning, *v.BestAnswer, nil
}

// stripFence removes one surrounding markdown code fence, with or without a
// language tag.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := s[3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// Drop the fence line ("```json" or bare "```").
		body = body[nl+1:]
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}
