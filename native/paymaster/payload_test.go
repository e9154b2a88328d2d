package paymaster

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestAuthorizationRoundTrip(t *testing.T) {
	pm := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	sig := bytes.Repeat([]byte{0x5a}, SignatureLengthFull)
	payload := &AuthorizationPayload{
		ValidUntil: 1_900_000_000,
		ValidAfter: 1_800_000_000,
		Sponsor:    testSponsor(0x42),
		Signature:  sig,
	}
	blob, err := EncodeAuthorization(pm, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(blob) != signatureOffset+SignatureLengthFull {
		t.Fatalf("blob length %d, want %d", len(blob), signatureOffset+SignatureLengthFull)
	}
	if !bytes.Equal(blob[:20], pm.Bytes()) {
		t.Fatalf("paymaster prefix mismatch")
	}

	decoded, err := DecodeAuthorization(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ValidUntil != payload.ValidUntil || decoded.ValidAfter != payload.ValidAfter {
		t.Fatalf("window mismatch: got (%d, %d)", decoded.ValidUntil, decoded.ValidAfter)
	}
	if decoded.Sponsor != payload.Sponsor {
		t.Fatalf("sponsor mismatch: got %s", decoded.Sponsor)
	}
	if !bytes.Equal(decoded.Signature, sig) {
		t.Fatalf("signature mismatch")
	}
}

func TestDecodeAuthorizationTooShort(t *testing.T) {
	for _, n := range []int{0, 19, 20, signatureOffset - 1} {
		if _, err := DecodeAuthorization(make([]byte, n)); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("length %d: expected ErrMalformedPayload, got %v", n, err)
		}
	}
}

func TestDecodeAuthorizationKeepsOddSignatureLengths(t *testing.T) {
	// Signature length is the caller's gate; decode itself accepts anything
	// after the tuple, including nothing at all.
	blob, err := EncodeAuthorization(common.Address{}, &AuthorizationPayload{
		Sponsor:   testSponsor(1),
		Signature: []byte{0x01, 0x02, 0x03},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeAuthorization(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := decoded.SignatureLength(); got != 3 {
		t.Fatalf("signature length %d, want 3", got)
	}
	if ValidSignatureLength(decoded.SignatureLength()) {
		t.Fatalf("3 bytes should not be a valid signature length")
	}
}

func TestEncodeAuthorizationRejectsOversizedWindow(t *testing.T) {
	payload := &AuthorizationPayload{ValidUntil: maxUint48 + 1, Sponsor: testSponsor(1)}
	if _, err := EncodeAuthorization(common.Address{}, payload); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	payload = &AuthorizationPayload{ValidAfter: maxUint48 + 1, Sponsor: testSponsor(1)}
	if _, err := EncodeAuthorization(common.Address{}, payload); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestSettlementContextRoundTrip(t *testing.T) {
	ctx := &SettlementContext{
		Sponsor:    testSponsor(0x07),
		Sender:     common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Reserved:   big.NewInt(1_000_000),
		PostOpCost: big.NewInt(70_000),
	}
	blob, err := EncodeSettlementContext(ctx)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(blob) != settlementContextSize {
		t.Fatalf("context size %d, want %d", len(blob), settlementContextSize)
	}
	decoded, err := DecodeSettlementContext(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Sponsor != ctx.Sponsor || decoded.Sender != ctx.Sender {
		t.Fatalf("identity fields mismatch")
	}
	if decoded.Reserved.Cmp(ctx.Reserved) != 0 || decoded.PostOpCost.Cmp(ctx.PostOpCost) != 0 {
		t.Fatalf("amount fields mismatch: reserved %s, postOpCost %s", decoded.Reserved, decoded.PostOpCost)
	}
}

func TestDecodeSettlementContextStrictSize(t *testing.T) {
	for _, n := range []int{0, settlementContextSize - 1, settlementContextSize + 1, settlementContextSize * 2} {
		if _, err := DecodeSettlementContext(make([]byte, n)); !errors.Is(err, ErrMalformedContext) {
			t.Fatalf("length %d: expected ErrMalformedContext, got %v", n, err)
		}
	}
}

func TestSponsorIDFromHex(t *testing.T) {
	id, err := SponsorIDFromHex("0x0102030405060708090a0b0c")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.String() != "0x0102030405060708090a0b0c" {
		t.Fatalf("round trip mismatch: %s", id)
	}
	if _, err := SponsorIDFromHex("0x01"); err == nil {
		t.Fatalf("short id should be rejected")
	}
	if _, err := SponsorIDFromHex("zz02030405060708090a0b0c"); err == nil {
		t.Fatalf("non-hex id should be rejected")
	}
}
