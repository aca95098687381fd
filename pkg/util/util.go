package util

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ParseHexUint64 parses a 0x-prefixed JSON-RPC quantity such as a block number.
func ParseHexUint64(hexStr string) (uint64, error) {
	if len(hexStr) < 3 || !strings.HasPrefix(hexStr, "0x") {
		return 0, fmt.Errorf("invalid hex quantity: %q", hexStr)
	}
	return strconv.ParseUint(hexStr[2:], 16, 64)
}

// FormatHexUint64 is the inverse of ParseHexUint64.
func FormatHexUint64(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

// DecodeHex decodes 0x-prefixed hex data. "0x" decodes to an empty slice.
func DecodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, fmt.Errorf("invalid hex data: missing 0x prefix in %q", abbrev(s))
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, fmt.Errorf("invalid hex data %q: %w", abbrev(s), err)
	}
	return b, nil
}

func EncodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func abbrev(s string) string {
	if len(s) > 24 {
		return s[:21] + "..."
	}
	return s
}
