// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import "strings"

const redactedToken = "***REDACTED***"

func RedactedToken() string { return redactedToken }

// RedactValues returns a copy of the input map with the named keys replaced
// by the redaction marker.
func RedactValues(values map[string]string, secretNames []string) map[string]string {
	if len(secretNames) == 0 || len(values) == 0 {
		return values
	}
	secrets := make(map[string]struct{}, len(secretNames))
	for _, n := range secretNames {
		secrets[n] = struct{}{}
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if _, ok := secrets[k]; ok {
			out[k] = redactedToken
		} else {
			out[k] = v
		}
	}
	return out
}

// NewLineRedactor replaces every occurrence of the given secret values in a
// log line. Empty values are ignored; a nil redactor is returned when there
// is nothing to hide.
func NewLineRedactor(secretValues []string) func(string) string {
	filtered := make([]string, 0, len(secretValues))
	for _, val := range secretValues {
		if val != "" {
			filtered = append(filtered, val)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return func(line string) string {
		for _, secret := range filtered {
			line = strings.ReplaceAll(line, secret, redactedToken)
		}
		return line
	}
}
