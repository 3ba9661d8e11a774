package scanner

import "bytes"

// valueStart returns the index of the first byte after `key:` and any spaces.
func valueStart(payload []byte, key []byte) int {
	idx := IndexOf(payload, key)
	if idx < 0 {
		return -1
	}
	i := idx + len(key)
	for i < len(payload) && IsSpace(payload[i]) {
		i++
	}
	if i >= len(payload) || payload[i] != ':' {
		return -1
	}
	i++
	for i < len(payload) && IsSpace(payload[i]) {
		i++
	}
	if i >= len(payload) {
		return -1
	}
	return i
}

// ScanUintField returns the unsigned integer value of the first occurrence of key.
func ScanUintField(payload []byte, key []byte) (uint64, bool) {
	i := valueStart(payload, key)
	if i < 0 || payload[i] < '0' || payload[i] > '9' {
		return 0, false
	}
	var v uint64
	for i < len(payload) && payload[i] >= '0' && payload[i] <= '9' {
		v = v*10 + uint64(payload[i]-'0')
		i++
	}
	return v, true
}

// ScanStringField returns the raw string value of the first occurrence of key,
// without unescaping. The result aliases payload.
func ScanStringField(payload []byte, key []byte) ([]byte, bool) {
	i := valueStart(payload, key)
	if i < 0 || payload[i] != '"' {
		return nil, false
	}
	i++
	start := i
	for i < len(payload) && payload[i] != '"' {
		if payload[i] == '\\' {
			i++
		}
		i++
	}
	if i >= len(payload) {
		return nil, false
	}
	return payload[start:i], true
}

// ScanBoolField returns the boolean value of the first occurrence of key.
func ScanBoolField(payload []byte, key []byte) (bool, bool) {
	i := valueStart(payload, key)
	if i < 0 {
		return false, false
	}
	rest := payload[i:]
	switch {
	case bytes.HasPrefix(rest, []byte("true")):
		return true, true
	case bytes.HasPrefix(rest, []byte("false")):
		return false, true
	default:
		return false, false
	}
}

func IndexOf(payload []byte, key []byte) int {
	if len(key) == 0 {
		return -1
	}
	return bytes.Index(payload, key)
}

func IsSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func BytesContains(haystack []byte, needle []byte) bool {
	return bytes.Contains(haystack, needle)
}

func Equal(a, b []byte) bool {
	return bytes.Equal(a, b)
}

// TrimSpace trims JSON whitespace from both ends.
func TrimSpace(b []byte) []byte {
	for len(b) > 0 && IsSpace(b[0]) {
		b = b[1:]
	}
	for len(b) > 0 && IsSpace(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return b
}
