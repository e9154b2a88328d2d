package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"gaslane/cmd/internal/passphrase"
	"gaslane/core/types"
	gcrypto "gaslane/crypto"
	"gaslane/native/paymaster"
)

const passphraseEnv = "GASLANE_KEYSTORE_PASSPHRASE"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "sign":
		err = runSign(os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `gaslane-cli — operator tooling for the sponsorship authority

Commands:
  keygen   generate an authority key and store it in an encrypted keystore
  sign     authorize a user operation and print its PaymasterAndData blob
  inspect  decode a PaymasterAndData blob

Set %s to provide the keystore passphrase non-interactively.
`, passphraseEnv)
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "./authority.keystore", "destination keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pass, err := passphrase.NewSource(passphraseEnv).Get()
	if err != nil {
		return err
	}
	key, err := gcrypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := gcrypto.SaveToKeystore(*out, key, pass); err != nil {
		return err
	}
	fmt.Printf("keystore: %s\n", *out)
	fmt.Printf("authority: %s\n", key.PubKey().Address().Hex())
	return nil
}

// userOpFile is the JSON shape accepted by the sign command. Amount fields
// are base-10 strings so callers never lose precision to JSON numbers.
type userOpFile struct {
	Sender               string        `json:"sender"`
	Nonce                string        `json:"nonce"`
	InitCode             hexutil.Bytes `json:"initCode"`
	CallData             hexutil.Bytes `json:"callData"`
	CallGasLimit         uint64        `json:"callGasLimit"`
	VerificationGasLimit uint64        `json:"verificationGasLimit"`
	PreVerificationGas   uint64        `json:"preVerificationGas"`
	MaxFeePerGas         string        `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string        `json:"maxPriorityFeePerGas"`
}

func (u *userOpFile) toUserOperation() (*types.UserOperation, error) {
	if !common.IsHexAddress(u.Sender) {
		return nil, fmt.Errorf("sender %q is not a valid address", u.Sender)
	}
	nonce, err := parseBig(u.Nonce, "nonce")
	if err != nil {
		return nil, err
	}
	maxFee, err := parseBig(u.MaxFeePerGas, "maxFeePerGas")
	if err != nil {
		return nil, err
	}
	maxPriority, err := parseBig(u.MaxPriorityFeePerGas, "maxPriorityFeePerGas")
	if err != nil {
		return nil, err
	}
	return &types.UserOperation{
		Sender:               common.HexToAddress(u.Sender),
		Nonce:                nonce,
		InitCode:             u.InitCode,
		CallData:             u.CallData,
		CallGasLimit:         u.CallGasLimit,
		VerificationGasLimit: u.VerificationGasLimit,
		PreVerificationGas:   u.PreVerificationGas,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: maxPriority,
	}, nil
}

func parseBig(raw, field string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base-10 integer, got %q", field, raw)
	}
	return v, nil
}

func runSign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	opPath := fs.String("userop", "", "path to the user operation JSON file")
	keystorePath := fs.String("keystore", "./authority.keystore", "authority keystore file")
	chainID := fs.Uint64("chain-id", 0, "chain identifier the sponsorship is bound to")
	paymasterAddr := fs.String("paymaster", "", "paymaster address the sponsorship is bound to")
	sponsorHex := fs.String("sponsor", "", "12-byte sponsor id in hex")
	validUntil := fs.Uint64("valid-until", 0, "end of validity window, unix seconds (0 = no bound)")
	validAfter := fs.Uint64("valid-after", 0, "start of validity window, unix seconds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *opPath == "" {
		return errors.New("-userop is required")
	}
	if *chainID == 0 {
		return errors.New("-chain-id is required")
	}
	if !common.IsHexAddress(*paymasterAddr) {
		return fmt.Errorf("-paymaster %q is not a valid address", *paymasterAddr)
	}
	sponsor, err := paymaster.SponsorIDFromHex(*sponsorHex)
	if err != nil {
		return fmt.Errorf("-sponsor: %w", err)
	}

	raw, err := os.ReadFile(*opPath)
	if err != nil {
		return err
	}
	var file userOpFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse %s: %w", *opPath, err)
	}
	op, err := file.toUserOperation()
	if err != nil {
		return err
	}

	pass, err := passphrase.NewSource(passphraseEnv).Get()
	if err != nil {
		return err
	}
	key, err := gcrypto.LoadFromKeystore(*keystorePath, pass)
	if err != nil {
		return err
	}

	pm := common.HexToAddress(*paymasterAddr)
	hash, err := paymaster.SponsorshipHash(op, new(big.Int).SetUint64(*chainID), pm, *validUntil, *validAfter, sponsor)
	if err != nil {
		return err
	}
	sig, err := key.Sign(hash.Bytes())
	if err != nil {
		return err
	}
	blob, err := paymaster.EncodeAuthorization(pm, &paymaster.AuthorizationPayload{
		ValidUntil: *validUntil,
		ValidAfter: *validAfter,
		Sponsor:    sponsor,
		Signature:  sig,
	})
	if err != nil {
		return err
	}

	fmt.Printf("authority: %s\n", key.PubKey().Address().Hex())
	fmt.Printf("hash: %s\n", hash.Hex())
	fmt.Printf("paymasterAndData: %s\n", hexutil.Encode(blob))
	return nil
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	blobHex := fs.String("blob", "", "PaymasterAndData blob in hex")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *blobHex == "" {
		return errors.New("-blob is required")
	}
	blob, err := hexutil.Decode(*blobHex)
	if err != nil {
		return fmt.Errorf("-blob: %w", err)
	}
	payload, err := paymaster.DecodeAuthorization(blob)
	if err != nil {
		return err
	}

	fmt.Printf("paymaster: %s\n", common.BytesToAddress(blob[:20]).Hex())
	fmt.Printf("sponsor: %s\n", payload.Sponsor)
	fmt.Printf("validAfter: %d\n", payload.ValidAfter)
	fmt.Printf("validUntil: %d\n", payload.ValidUntil)
	fmt.Printf("signature: %s (%d bytes)\n", hexutil.Encode(payload.Signature), len(payload.Signature))
	if !paymaster.ValidSignatureLength(len(payload.Signature)) {
		fmt.Println("warning: signature length is outside the accepted 64/65-byte range")
	}
	return nil
}
