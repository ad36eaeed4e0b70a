package auth

import (
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	tests := []struct {
		name   string
		hash   func(string) (string, error)
		memory string
	}{
		{"password", HashPassword, "m=65536,t=3"},
		{"token", HashToken, "m=16384,t=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := tt.hash("correct-horse-battery-staple")
			if err != nil {
				t.Fatalf("hash error = %v", err)
			}
			if !strings.HasPrefix(hash, "$argon2id$") || !strings.Contains(hash, tt.memory) {
				t.Errorf("hash = %q, want argon2id with %s", hash, tt.memory)
			}

			ok, err := VerifySecret("correct-horse-battery-staple", hash)
			if err != nil || !ok {
				t.Errorf("VerifySecret(correct) = %v, %v", ok, err)
			}
			ok, err = VerifySecret("wrong", hash)
			if err != nil || ok {
				t.Errorf("VerifySecret(wrong) = %v, %v", ok, err)
			}
		})
	}
}

func TestHashToken_UniqueSalts(t *testing.T) {
	h1, err := HashToken("same")
	if err != nil {
		t.Fatalf("HashToken() error = %v", err)
	}
	h2, _ := HashToken("same") //nolint:errcheck // checked above
	if h1 == h2 {
		t.Error("two hashes of the same secret should have different salts")
	}
}

func TestVerifySecret_MalformedHash(t *testing.T) {
	tests := []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=16$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$!!!$aGFzaA",
	}
	for _, h := range tests {
		if _, err := VerifySecret("x", h); err == nil {
			t.Errorf("VerifySecret(%q) returned no error", h)
		}
	}
}
