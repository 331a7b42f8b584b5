package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// M is the shape of a decoded dispatch payload. Enrichment mutates these maps
// in place; the cache layer is the sole writer for cached entities.
type M = map[string]any

// getM returns a nested object field, or nil when absent or not an object.
func getM(m M, key string) M {
	if m == nil {
		return nil
	}
	v, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	return v
}

// getS returns a string field, or "" when absent or not a string.
func getS(m M, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

func getBool(m M, key string) bool {
	if m == nil {
		return false
	}
	v, _ := m[key].(bool)
	return v
}

// getList returns an array-of-objects field as []M. The returned slice is
// fresh but shares the underlying maps with the payload, so derivations
// written through it stay visible to the payload's owner.
func getList(m M, key string) []M {
	if m == nil {
		return nil
	}
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]M, 0, len(raw))
	for _, v := range raw {
		if obj, ok := v.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// getStrings returns an array-of-strings field. Wire payloads carry these as
// []any; derivations written back by the cache are []string already.
func getStrings(m M, key string) []string {
	if m == nil {
		return nil
	}
	raw, ok := m[key].([]any)
	if !ok {
		ss, _ := m[key].([]string)
		return ss
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// getUint reads a numeric field that the wire may carry as a JSON number or
// as a decimal string (permission bitmasks are strings past 2^53).
func getUint(m M, key string) uint64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return uint64(v)
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	case int64:
		return uint64(v)
	case uint64:
		return v
	}
	return 0
}

// firstString is the ordered-precedence resolver behind the display-name and
// avatar fallback chains: first non-empty value wins.
func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// findByID locates an entry of a cached list by its id field.
func findByID(list []M, id string) M {
	for _, entry := range list {
		if getS(entry, "id") == id {
			return entry
		}
	}
	return nil
}

// findByUserID locates a member entry by its nested user id.
func findByUserID(list []M, userID string) M {
	for _, entry := range list {
		if getS(getM(entry, "user"), "id") == userID {
			return entry
		}
	}
	return nil
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

func readInput(prompt string) string {
	fmt.Printf("%s %s", INFO, prompt)
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("%s Error reading input - %s\n", ERROR, err.Error())
		os.Exit(1)
	}

	return ""
}

// formatNumber renders n with thousands separators for status output.
func formatNumber(n int64) string {
	in := strconv.FormatInt(n, 10)
	out := make([]byte, len(in)+(len(in)-2+int(in[0]/'0'))/3)

	if in[0] == '-' {
		in, out[0] = in[1:], '-'
	}

	for i, j, k := len(in)-1, len(out)-1, 0; ; i, j = i-1, j-1 {
		out[j] = in[i]

		if i == 0 {
			return string(out)
		}

		if k++; k == 3 {
			j, k = j-1, 0
			out[j] = ','
		}
	}
}
