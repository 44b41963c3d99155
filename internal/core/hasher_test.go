package core

import (
	"testing"
)

func TestComputeHash_IdenticalInputsProduceSameHash(t *testing.T) {
	hasher := NewHasher()

	input := HashInput{
		Kind:   "transformation",
		Name:   "clip",
		Params: map[string]any{"min": 0.0, "max": 1.0},
	}

	hash1, err := hasher.ComputeHash(input)
	if err != nil {
		t.Fatalf("ComputeHash failed: %v", err)
	}
	hash2, err := hasher.ComputeHash(input)
	if err != nil {
		t.Fatalf("ComputeHash failed: %v", err)
	}

	if hash1 != hash2 {
		t.Errorf("identical inputs produced different hashes: %s != %s", hash1, hash2)
	}
	if len(hash1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(hash1))
	}
}

func TestComputeHash_ParamOrderDoesNotMatter(t *testing.T) {
	hasher := NewHasher()

	a := map[string]any{}
	a["alpha"] = 1
	a["beta"] = "x"
	a["gamma"] = []int{1, 2}

	b := map[string]any{}
	b["gamma"] = []int{1, 2}
	b["beta"] = "x"
	b["alpha"] = 1

	hashA := hasher.MustComputeHash(HashInput{Kind: "k", Name: "n", Params: a})
	hashB := hasher.MustComputeHash(HashInput{Kind: "k", Name: "n", Params: b})

	if hashA != hashB {
		t.Errorf("param insertion order changed the hash: %s != %s", hashA, hashB)
	}
}

func TestComputeHash_ParamChangeInvalidatesHash(t *testing.T) {
	hasher := NewHasher()

	base := hasher.MustComputeHash(HashInput{Kind: "k", Name: "clip", Params: map[string]any{"max": 1.0}})
	changed := hasher.MustComputeHash(HashInput{Kind: "k", Name: "clip", Params: map[string]any{"max": 2.0}})

	if base == changed {
		t.Error("param change did not invalidate hash")
	}
}

func TestComputeHash_NameAndKindContributeToIdentity(t *testing.T) {
	hasher := NewHasher()

	h1 := hasher.MustComputeHash(HashInput{Kind: "transformation", Name: "a"})
	h2 := hasher.MustComputeHash(HashInput{Kind: "transformation", Name: "b"})
	h3 := hasher.MustComputeHash(HashInput{Kind: "training", Name: "a"})

	if h1 == h2 {
		t.Error("name change did not invalidate hash")
	}
	if h1 == h3 {
		t.Error("kind change did not invalidate hash")
	}
}

func TestComputeHash_ChildOrderIsSignificant(t *testing.T) {
	hasher := NewHasher()

	h1 := hasher.MustComputeHash(HashInput{Kind: "pipeline", Children: []BlockHash{"a", "b"}})
	h2 := hasher.MustComputeHash(HashInput{Kind: "pipeline", Children: []BlockHash{"b", "a"}})

	if h1 == h2 {
		t.Error("child order did not affect hash")
	}
}

func TestComputeHash_LengthPrefixPreventsAmbiguity(t *testing.T) {
	hasher := NewHasher()

	// "ab"+"c" and "a"+"bc" must not collide.
	h1 := hasher.MustComputeHash(HashInput{Kind: "ab", Name: "c"})
	h2 := hasher.MustComputeHash(HashInput{Kind: "a", Name: "bc"})

	if h1 == h2 {
		t.Error("field boundaries are ambiguous")
	}
}

func TestComputeHash_UnencodableParamFails(t *testing.T) {
	hasher := NewHasher()

	_, err := hasher.ComputeHash(HashInput{Name: "bad", Params: map[string]any{"fn": func() {}}})
	if err == nil {
		t.Fatal("expected error for unencodable param")
	}
}

func TestBlockHash_Short(t *testing.T) {
	h := BlockHash("0123456789abcdef")
	if got := h.Short(); got != "0123456789ab" {
		t.Errorf("Short() = %q", got)
	}
	if got := BlockHash("abc").Short(); got != "abc" {
		t.Errorf("Short() on short hash = %q", got)
	}
}
