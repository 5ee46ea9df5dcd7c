package client

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/menta2k/cleaning-check/pkg/types"
)

// rawResponse mirrors the JSON contract the prompt demands, before
// normalization. Loose typing absorbs the usual model sloppiness (numeric
// strings, nulls in lists) without failing the whole answer.
type rawResponse struct {
	Labels   []any          `json:"labels"`
	Scores   map[string]any `json:"scores"`
	Comments []any          `json:"comments"`
	Presence map[string]any `json:"presence"`
}

// ParseResponse turns raw model output into a normalized
// ClassificationResponse. The response must be a single JSON object; anything
// that cannot be coerced into the contract is an error so the caller can
// retry the request.
func ParseResponse(raw string) (*types.ClassificationResponse, error) {
	cleaned := sanitizeModelJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, fmt.Errorf("model returned non-JSON response")
	}

	var r rawResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	return normalize(&r), nil
}

func normalize(r *rawResponse) *types.ClassificationResponse {
	resp := &types.ClassificationResponse{
		Labels:   make([]string, 0, len(r.Labels)),
		Scores:   make(map[string]float64, len(r.Scores)),
		Comments: make([]string, 0, len(r.Comments)),
		Presence: make(map[string]*bool, len(r.Presence)),
	}

	for _, l := range r.Labels {
		if s, ok := toString(l); ok {
			resp.Labels = append(resp.Labels, s)
		}
	}
	for k, v := range r.Scores {
		if f, ok := toFloat(v); ok {
			resp.Scores[k] = f
		}
	}
	for _, c := range r.Comments {
		if s, ok := toString(c); ok && s != "" {
			resp.Comments = append(resp.Comments, s)
		}
	}
	// Presence keeps only strict booleans; everything else stays
	// indeterminate (nil), including values for unexpected keys.
	for _, key := range types.PresenceKeys {
		v, ok := r.Presence[key]
		if !ok {
			continue
		}
		if b, isBool := v.(bool); isBool {
			val := b
			resp.Presence[key] = &val
		} else {
			resp.Presence[key] = nil
		}
	}
	return resp
}

// Placeholder is the deterministic degraded response used when the backend is
// unavailable or a call has failed for good: empty labels, zero quality
// score, one explanatory comment, empty presence.
func Placeholder(comment string) *types.ClassificationResponse {
	return &types.ClassificationResponse{
		Labels:   []string{},
		Scores:   map[string]float64{"quality": 0.0},
		Comments: []string{comment},
		Presence: map[string]*bool{},
	}
}

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas, then
// keeps only the outermost {...}. Vision models wrap answers in markdown more
// often than they should.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

func toString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
