package core

import "testing"

func TestDeriveContractKeyIsDeterministic(t *testing.T) {
	code := []byte("wasm bytes here")
	params := []byte("params")
	k1 := DeriveContractKey(code, params)
	k2 := DeriveContractKey(code, params)
	if !k1.Equal(k2) {
		t.Fatalf("expected deterministic key derivation")
	}
}

func TestDeriveContractKeyDiffersOnCodeOrParams(t *testing.T) {
	base := DeriveContractKey([]byte("code-a"), []byte("params-a"))
	diffCode := DeriveContractKey([]byte("code-b"), []byte("params-a"))
	diffParams := DeriveContractKey([]byte("code-a"), []byte("params-b"))
	if base.Equal(diffCode) {
		t.Fatalf("expected different code to produce a different key")
	}
	if base.Equal(diffParams) {
		t.Fatalf("expected different parameters to produce a different key")
	}
}

func TestDeriveContractKeySharesContractPartForSameCode(t *testing.T) {
	a := DeriveContractKey([]byte("shared-code"), []byte("params-a"))
	b := DeriveContractKey([]byte("shared-code"), []byte("params-b"))
	if a.ContractPart != b.ContractPart {
		t.Fatalf("expected same code to share ContractPart")
	}
	if a.Spec == b.Spec {
		t.Fatalf("expected different parameters to still produce different Spec")
	}
}

func TestContractSpecificationRoundTrip(t *testing.T) {
	c := Contract{Code: []byte("code bytes"), Parameters: []byte("param bytes")}
	key := c.Derive()
	blob := EncodeContractSpecification(c)

	got, err := DecodeContractSpecification(blob, key)
	if err != nil {
		t.Fatalf("DecodeContractSpecification: %v", err)
	}
	if string(got.Code) != string(c.Code) || string(got.Parameters) != string(c.Parameters) {
		t.Fatalf("round-tripped contract mismatch: %+v", got)
	}
}

func TestContractSpecificationRejectsSubstitution(t *testing.T) {
	original := Contract{Code: []byte("original code"), Parameters: []byte("params")}
	key := original.Derive()

	substituted := Contract{Code: []byte("malicious code"), Parameters: []byte("params")}
	blob := EncodeContractSpecification(substituted)

	_, err := DecodeContractSpecification(blob, key)
	if err == nil {
		t.Fatalf("expected substitution to be rejected against the advertised key")
	}
}

func TestContractSpecificationRejectsTruncatedBlob(t *testing.T) {
	c := Contract{Code: []byte("some code"), Parameters: []byte("some params")}
	key := c.Derive()
	blob := EncodeContractSpecification(c)
	_, err := DecodeContractSpecification(blob[:len(blob)-3], key)
	if err == nil {
		t.Fatalf("expected truncated blob to fail decoding")
	}
}
