package signing

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/mselser95/p2p-wager/pkg/types"
)

// SignatureLength is r || s || v.
const SignatureLength = 65

// ErrMalformedSignature is returned for signatures that cannot be decoded.
var ErrMalformedSignature = errors.New("malformed signature")

// Hash returns the EIP-712 digest of msg under domain.
// The digest depends only on the canonical field order of the message type.
func Hash(domain Domain, msg Message) (common.Hash, error) {
	if msg == nil {
		return common.Hash{}, errors.New("nil message")
	}

	typedData := apitypes.TypedData{
		Types:       typesFor(msg.PrimaryType()),
		PrimaryType: msg.PrimaryType(),
		Domain:      domain.typed(),
		Message:     msg.typedMessage(),
	}

	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash %s: %w", msg.PrimaryType(), err)
	}

	return common.BytesToHash(digest), nil
}

// Signer holds one party's key. Key custody is the caller's concern.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner parses a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewSignerFromKey(pk), nil
}

// NewSignerFromKey wraps an existing key.
func NewSignerFromKey(pk *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: pk,
		address:    crypto.PubkeyToAddress(pk.PublicKey),
	}
}

// Address returns the signer's address.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKey exposes the key for transaction signing.
func (s *Signer) PrivateKey() *ecdsa.PrivateKey {
	return s.privateKey
}

// Sign returns a 65-byte signature with v in {27, 28}.
func (s *Signer) Sign(domain Domain, msg Message) ([]byte, error) {
	digest, err := Hash(domain, msg)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", msg.PrimaryType(), err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	return sig, nil
}

// RecoverSigner returns the address that produced sig over msg.
// ok is false for any malformed input; it never panics.
func RecoverSigner(domain Domain, msg Message, sig []byte) (addr common.Address, ok bool) {
	if len(sig) != SignatureLength {
		return common.Address{}, false
	}

	digest, err := Hash(domain, msg)
	if err != nil {
		return common.Address{}, false
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return common.Address{}, false
	}

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, false
	}

	return crypto.PubkeyToAddress(*pub), true
}

// Verdict is the typed result of message validation.
type Verdict struct {
	Valid  bool
	Code   string // empty when valid; a types.ErrCode* value otherwise
	Signer common.Address
}

// Err converts a failed verdict into a ProtocolError.
func (v Verdict) Err() error {
	if v.Valid {
		return nil
	}
	return &types.ProtocolError{Code: v.Code, Message: verdictMessage(v.Code)}
}

func verdictMessage(code string) string {
	switch code {
	case types.ErrCodeExpired:
		return "message expired"
	case types.ErrCodeSignerMismatch:
		return "signature does not match claimed signer"
	default:
		return "invalid signature"
	}
}

// Verify checks expiry first, then that sig recovers to claimed.
// An expiry strictly before nowUnix is rejected even when the signature is valid.
func Verify(domain Domain, msg Message, sig []byte, claimed common.Address, nowUnix int64) Verdict {
	if msg == nil {
		return Verdict{Code: types.ErrCodeInvalidSignature}
	}
	if nowUnix >= 0 && msg.ExpiresAt() < uint64(nowUnix) {
		return Verdict{Code: types.ErrCodeExpired}
	}

	recovered, ok := RecoverSigner(domain, msg, sig)
	if !ok {
		return Verdict{Code: types.ErrCodeInvalidSignature}
	}
	if recovered != claimed {
		return Verdict{Code: types.ErrCodeSignerMismatch, Signer: recovered}
	}

	return Verdict{Valid: true, Signer: recovered}
}

// ValidateSignature reports whether sig over msg was produced by claimed.
// Malformed signatures are simply invalid.
func ValidateSignature(domain Domain, msg Message, sig []byte, claimed common.Address) bool {
	recovered, ok := RecoverSigner(domain, msg, sig)
	return ok && recovered == claimed
}

// EncodeSignature renders sig as 0x-prefixed hex.
func EncodeSignature(sig []byte) string {
	return hexutil.Encode(sig)
}

// DecodeSignature parses a 0x-prefixed 65-byte hex signature.
func DecodeSignature(s string) ([]byte, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: length %d", ErrMalformedSignature, len(sig))
	}
	return sig, nil
}
