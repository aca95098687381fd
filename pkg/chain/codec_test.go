package chain_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/distribworks/xk6-substrate/pkg/chain"
	"github.com/distribworks/xk6-substrate/pkg/metadata/metadatatest"
	"github.com/distribworks/xk6-substrate/pkg/scale"
)

func sampleHeader() *chain.Header {
	h := &chain.Header{Number: 1_234_567}
	h.ParentHash[0] = 0x11
	h.StateRoot[31] = 0x22
	h.ExtrinsicsRoot[15] = 0x33
	h.Digest = []chain.DigestItem{
		{Kind: chain.DigestPreRuntime, Engine: [4]byte{'B', 'A', 'B', 'E'}, Data: []byte{1, 2, 3}},
		{Kind: chain.DigestOther, Data: []byte{0xff}},
		{Kind: chain.DigestRuntimeEnvironmentUpdated},
		{Kind: chain.DigestSeal, Engine: [4]byte{'B', 'A', 'B', 'E'}, Data: bytes.Repeat([]byte{9}, 64)},
	}
	return h
}

func TestHeaderEncoding(t *testing.T) {
	h := sampleHeader()
	enc := h.Encode()

	got, err := chain.DecodeHeader(enc)
	require.NoError(t, err)
	require.Equal(t, h, got)

	require.Equal(t, chain.Hash(blake2b.Sum256(enc)), h.Hash())
	require.Equal(t, "BABE", h.Digest[0].EngineID())
	require.Equal(t, "", h.Digest[1].EngineID())

	// parent, compact number (4 bytes), two roots, digest
	require.Equal(t, byte(0x11), enc[0])
	require.Equal(t, scale.EncodeCompact(1_234_567), enc[32:36])
}

func TestDigestItemErrors(t *testing.T) {
	_, err := chain.DecodeDigestItem([]byte{7, 0})
	m, ok := scale.IsMalformed(err)
	require.True(t, ok)
	require.Equal(t, 0, m.Offset)

	_, err = chain.DecodeDigestItem([]byte{6, 'a', 'u', 'r'})
	require.ErrorIs(t, err, scale.ErrMalformed)

	_, err = chain.DecodeDigestItem([]byte{8, 0})
	m, ok = scale.IsMalformed(err)
	require.True(t, ok)
	require.Equal(t, 1, m.Offset)

	item, err := chain.DecodeDigestItem(chain.DigestItem{Kind: chain.DigestConsensus, Engine: [4]byte{'F', 'R', 'N', 'K'}, Data: []byte{5}}.Bytes())
	require.NoError(t, err)
	require.Equal(t, "FRNK", item.EngineID())
	require.Equal(t, []byte{5}, item.Data)
}

func TestParseHash(t *testing.T) {
	h, err := chain.ParseHash("0xab" + strings.Repeat("00", 31))
	require.NoError(t, err)
	require.Equal(t, byte(0xab), h[0])
	require.False(t, h.IsZero())

	_, err = chain.ParseHash("0xabcd")
	require.Error(t, err)
	_, err = chain.ParseHash("ab")
	require.Error(t, err)
}

func TestDecodeUnsignedExtrinsic(t *testing.T) {
	m := metadatatest.Metadata()
	raw := metadatatest.TimestampSet(1_700_000_000_000)

	x, err := chain.DecodeExtrinsic(m, 0, raw)
	require.NoError(t, err)
	require.True(t, x.Decoded)
	require.False(t, x.Signed)
	require.Equal(t, uint8(4), x.Version)
	require.Nil(t, x.Signature)
	require.Equal(t, chain.Hash(blake2b.Sum256(raw)), x.Hash)

	require.Equal(t, "Timestamp", x.Call.Pallet)
	require.Equal(t, uint8(metadatatest.TimestampIndex), x.Call.PalletIndex)
	require.Equal(t, "set", x.Call.Name)
	now, ok := x.Call.Arg("now")
	require.True(t, ok)
	require.Equal(t, uint64(1_700_000_000_000), now)
}

func TestDecodeSignedExtrinsic(t *testing.T) {
	m := metadatatest.Metadata()
	var alice, bob [32]byte
	alice[0], bob[0] = 0xa1, 0xb0
	raw := metadatatest.Transfer(alice, bob, 12345, 7, 0)

	x, err := chain.DecodeExtrinsic(m, 3, raw)
	require.NoError(t, err)
	require.Equal(t, 3, x.Index)
	require.True(t, x.Signed)
	require.Equal(t, uint8(4), x.Version)

	addr, ok := x.Signature.Address.(scale.Variant)
	require.True(t, ok)
	require.Equal(t, "Id", addr.Name)
	require.Equal(t, scale.Composite{Fields: []scale.Field{{Name: "", Value: alice[:]}}}, addr.Fields[0].Value)

	sig, ok := x.Signature.Signature.(scale.Variant)
	require.True(t, ok)
	require.Equal(t, "Sr25519", sig.Name)

	names := make([]string, 0, len(x.Signature.Extra))
	for _, f := range x.Signature.Extra {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{"CheckGenesis", "CheckMortality", "CheckNonce", "ChargeTransactionPayment"}, names)
	nonce, ok := x.Signature.Extra[2].Value.(scale.Composite).Get("")
	require.True(t, ok)
	require.Equal(t, uint64(7), nonce)

	require.Equal(t, "Balances", x.Call.Pallet)
	require.Equal(t, "transfer_keep_alive", x.Call.Name)
	require.Equal(t, uint8(3), x.Call.CallIndex)
	value, ok := x.Call.Arg("value")
	require.True(t, ok)
	require.Equal(t, uint64(12345), value)
}

func TestDecodeExtrinsicMalformed(t *testing.T) {
	m := metadatatest.Metadata()
	good := metadatatest.TimestampSet(42)

	unknownPallet := append([]byte(nil), good...)
	unknownPallet[2] = 99

	v5 := append([]byte(nil), good...)
	v5[1] = 5

	tests := []struct {
		name   string
		raw    []byte
		offset int
	}{
		{"length prefix mismatch", append(append([]byte(nil), good...), 0), 0},
		{"unsupported version", v5, 1},
		{"unknown pallet", unknownPallet, 2},
		{"truncated call", append([]byte{0x0c}, good[1:4]...), 4},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, err := chain.DecodeExtrinsic(m, 0, tt.raw)
			mal, ok := scale.IsMalformed(err)
			require.True(t, ok, "expected malformed error, got %v", err)
			require.Equal(t, tt.offset, mal.Offset)
			require.False(t, x.Decoded)
		})
	}
}
