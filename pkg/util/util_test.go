package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHexUint64(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"0x0", 0, false},
		{"0x1b4", 436, false},
		{"0xffffffffffffffff", 1<<64 - 1, false},
		{"0x", 0, true},
		{"1b4", 0, true},
		{"0xzz", 0, true},
		{"0x1ffffffffffffffff", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHexUint64(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.in, FormatHexUint64(got))
		})
	}
}

func TestDecodeHex(t *testing.T) {
	b, err := DecodeHex("0xdeadBEEF")
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)
	require.Equal(t, "0xdeadbeef", EncodeHex(b))

	b, err = DecodeHex("0x")
	require.NoError(t, err)
	require.Empty(t, b)

	_, err = DecodeHex("deadbeef")
	require.Error(t, err)
	_, err = DecodeHex("0xabc")
	require.Error(t, err)
}
