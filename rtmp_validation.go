// Validation helpers for stream identifiers and play parameters

package main

import "strings"

// validateStreamIDString checks a channel or key string is non-empty, within
// the configured length limit, and free of path-traversal / separator
// characters that would let it escape its role as an opaque identifier.
func validateStreamIDString(id string, maxLength int) bool {
	if id == "" {
		return false
	}

	if maxLength > 0 && len(id) > maxLength {
		return false
	}

	if strings.ContainsAny(id, "/\\?#") {
		return false
	}

	return true
}

// getRTMPParamsSimple parses the query-like suffix of a play stream path
// (e.g. "cache=no&other=1") into a flat key/value map. Malformed or
// valueless entries are ignored rather than rejected.
func getRTMPParamsSimple(query string) map[string]string {
	params := make(map[string]string)

	pairs := strings.Split(query, "&")
	for _, pair := range pairs {
		if pair == "" {
			continue
		}

		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}

		params[kv[0]] = kv[1]
	}

	return params
}
