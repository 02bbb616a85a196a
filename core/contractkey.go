package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// keySize is the width, in bytes, of a contract key and of its contract_part
// (spec.md §3): a 512-bit cryptographic hash, matching the hash family used
// by the original Locutus/Freenet contract interface this module's contract
// model is grounded on.
const keySize = 64

// Contract pairs executable code with its instantiation parameters.
type Contract struct {
	Code       []byte
	Parameters []byte
}

// ContractKey is the derived, immutable 64-byte identifier for a contract:
// H(H(code) || parameters). ContractPart = H(code) alone is carried too, so
// peers can cheaply compare contracts that share code but differ only in
// parameters (spec.md §3).
type ContractKey struct {
	Spec         [keySize]byte
	ContractPart [keySize]byte
}

// DeriveContractKey computes a ContractKey from raw code and parameters.
// Equal keys iff equal (code, parameters) byte tuples (spec.md §3 invariant).
func DeriveContractKey(code, parameters []byte) ContractKey {
	codeHash := blake2b.Sum512(code)
	h, _ := blake2b.New512(nil)
	h.Write(codeHash[:])
	h.Write(parameters)
	var key ContractKey
	copy(key.Spec[:], h.Sum(nil))
	copy(key.ContractPart[:], codeHash[:])
	return key
}

// Derive computes the key for an in-memory Contract value.
func (c Contract) Derive() ContractKey { return DeriveContractKey(c.Code, c.Parameters) }

func (k ContractKey) Equal(other ContractKey) bool {
	return k.Spec == other.Spec && k.ContractPart == other.ContractPart
}

func (k ContractKey) String() string { return fmt.Sprintf("%x", k.Spec[:8]) }

// EncodeContractSpecification serializes the persisted/exchanged contract
// envelope per spec.md §6: u64 params_len || params || u64 code_len || code.
func EncodeContractSpecification(c Contract) []byte {
	buf := make([]byte, 0, 16+len(c.Parameters)+len(c.Code))
	var lenBuf [8]byte

	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(c.Parameters)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, c.Parameters...)

	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(c.Code)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, c.Code...)
	return buf
}

// DecodeContractSpecification parses the envelope produced by
// EncodeContractSpecification and verifies it against wantKey. The receiver
// MUST reject a blob that does not reproduce the advertised key (spec.md
// §6): this is what makes contract keys self-certifying against
// substitution (spec.md §4.2, scenario 6 in §8).
func DecodeContractSpecification(blob []byte, wantKey ContractKey) (Contract, error) {
	r := bytes.NewReader(blob)

	paramsLen, err := readU64(r)
	if err != nil {
		return Contract{}, fmt.Errorf("%w: reading params length: %v", ErrProtocol, err)
	}
	params := make([]byte, paramsLen)
	if _, err := io.ReadFull(r, params); err != nil {
		return Contract{}, fmt.Errorf("%w: reading params: %v", ErrProtocol, err)
	}

	codeLen, err := readU64(r)
	if err != nil {
		return Contract{}, fmt.Errorf("%w: reading code length: %v", ErrProtocol, err)
	}
	code := make([]byte, codeLen)
	if _, err := io.ReadFull(r, code); err != nil {
		return Contract{}, fmt.Errorf("%w: reading code: %v", ErrProtocol, err)
	}

	c := Contract{Code: code, Parameters: params}
	if !c.Derive().Equal(wantKey) {
		return Contract{}, fmt.Errorf("%w: contract specification does not match advertised key", ErrContract)
	}
	return c, nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
