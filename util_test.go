package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetUintReadsNumbersAndStrings(t *testing.T) {
	m := M{
		"float":  float64(42),
		"string": "9007199254740993", // 2^53 + 1, unrepresentable as float64
		"bad":    "nope",
	}

	assert.Equal(t, uint64(42), getUint(m, "float"))
	assert.Equal(t, uint64(9007199254740993), getUint(m, "string"))
	assert.Equal(t, uint64(0), getUint(m, "bad"))
	assert.Equal(t, uint64(0), getUint(m, "missing"))
	assert.Equal(t, uint64(0), getUint(nil, "x"))
}

func TestGetListSharesUnderlyingMaps(t *testing.T) {
	m := M{"roles": []any{M{"id": "r1"}}}

	list := getList(m, "roles")
	list[0]["derived"] = true

	// the write is visible through the original payload
	original := m["roles"].([]any)[0].(map[string]any)
	assert.Equal(t, true, original["derived"])
}

func TestFirstString(t *testing.T) {
	assert.Equal(t, "b", firstString("", "b", "c"))
	assert.Equal(t, "", firstString("", ""))
}

func TestFindByID(t *testing.T) {
	list := []M{{"id": "a"}, {"id": "b"}}
	assert.NotNil(t, findByID(list, "b"))
	assert.Nil(t, findByID(list, "z"))
}

func TestFindByUserID(t *testing.T) {
	list := []M{{"user": M{"id": "u1"}}, {"user": M{"id": "u2"}}}
	assert.NotNil(t, findByUserID(list, "u2"))
	assert.Nil(t, findByUserID(list, "u3"))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "1,234,567", formatNumber(1234567))
	assert.Equal(t, "42", formatNumber(42))
	assert.Equal(t, "-1,000", formatNumber(-1000))
}
