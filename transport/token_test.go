package transport

import "testing"

func TestMurmurTokenDeterministic(t *testing.T) {
	data := []byte("partition-key")
	a := MurmurToken(data)
	b := MurmurToken(data)
	if a != b {
		t.Fatalf("MurmurToken not deterministic: %d != %d", a, b)
	}
}

func TestMurmurTokenDistinguishesInputs(t *testing.T) {
	if MurmurToken([]byte("a")) == MurmurToken([]byte("b")) {
		t.Fatalf("MurmurToken collided on trivially distinct single-byte inputs")
	}
}

func TestMurmurTokenWithinRange(t *testing.T) {
	for _, s := range []string{"", "a", "test", "a longer partition key value"} {
		tok := MurmurToken([]byte(s))
		if tok < MinToken || tok > MaxToken {
			t.Fatalf("MurmurToken(%q) = %d out of [%d, %d]", s, tok, MinToken, MaxToken)
		}
		if tok == MinToken {
			t.Fatalf("MurmurToken(%q) returned MinToken; special-casing to MaxToken failed", s)
		}
	}
}

func TestRingTokenLowerBound(t *testing.T) {
	ring := Ring{
		{token: -100},
		{token: 0},
		{token: 100},
	}

	cases := []struct {
		token Token
		want  int
	}{
		{-200, 0},
		{-100, 0},
		{-50, 1},
		{0, 1},
		{50, 2},
		{100, 2},
		{200, 0}, // wraps to first entry
	}

	for _, tc := range cases {
		if got := ring.tokenLowerBound(tc.token); got != tc.want {
			t.Errorf("tokenLowerBound(%d) = %d, want %d", tc.token, got, tc.want)
		}
	}
}
