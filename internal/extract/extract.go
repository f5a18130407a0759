// Package extract recovers labels and JSON objects from free-form model output.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrInvalidOutput is returned when no JSON object can be recovered.
var ErrInvalidOutput = errors.New("invalid structured output")

var (
	openingFence = regexp.MustCompile("^```[A-Za-z0-9_+-]*")
	closingFence = regexp.MustCompile("```$")
)

// Label normalizes raw into a member of allowed, or returns fallback.
// It never fails.
func Label(raw string, allowed []string, fallback string) string {
	label := strings.ToLower(strings.TrimSpace(raw))
	label = strings.TrimRight(label, ".,")
	label = strings.TrimSpace(label)

	for _, candidate := range allowed {
		if label == candidate {
			return label
		}
	}

	logrus.WithFields(logrus.Fields{
		"raw":      truncateForLog(raw),
		"fallback": fallback,
	}).Warn("Model returned a label outside the allowed set")
	return fallback
}

// JSON parses the first JSON object found in raw. Code fences are stripped
// first; if the remainder does not parse, the span between the first '{' and
// the last '}' is tried.
func JSON(raw string) (map[string]interface{}, error) {
	text := stripFences(raw)

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text), &obj); err == nil && obj != nil {
		return obj, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		obj = nil
		if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err == nil && obj != nil {
			return obj, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrInvalidOutput, truncateForLog(raw))
}

// Fields extracts a JSON object and returns the string value of each key.
// Keys that are missing, empty or not strings get placeholder.
func Fields(raw string, keys []string, placeholder string) (map[string]string, error) {
	obj, err := JSON(raw)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(keys))
	for _, key := range keys {
		value, ok := obj[key].(string)
		if !ok || strings.TrimSpace(value) == "" {
			logrus.WithField("key", key).Warn("Structured output is missing a field, using placeholder")
			value = placeholder
		}
		out[key] = value
	}
	return out, nil
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	text = openingFence.ReplaceAllString(text, "")
	text = closingFence.ReplaceAllString(strings.TrimSpace(text), "")
	return strings.TrimSpace(text)
}

func truncateForLog(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
