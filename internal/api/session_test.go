package api

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestSessionSignerRoundTrip(t *testing.T) {
	signer := NewSessionSigner("test-secret")
	token := uuid.New().String()

	value := signer.Sign(token)
	if !strings.HasPrefix(value, token+".") {
		t.Fatalf("signed value %q does not embed token", value)
	}

	got, ok := signer.Verify(value)
	if !ok {
		t.Fatal("verification failed for freshly signed token")
	}
	if got != token {
		t.Errorf("got %q, want %q", got, token)
	}
}

func TestSessionSignerRejects(t *testing.T) {
	signer := NewSessionSigner("test-secret")
	token := uuid.New().String()
	value := signer.Sign(token)

	cases := []struct {
		name  string
		value string
	}{
		{"no signature", token},
		{"tampered token", uuid.New().String() + "." + strings.SplitN(value, ".", 2)[1]},
		{"tampered signature", token + ".deadbeef"},
		{"empty", ""},
		{"non-uuid token", "not-a-uuid." + NewSessionSigner("test-secret").signature("not-a-uuid")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := signer.Verify(tc.value); ok {
				t.Errorf("Verify(%q) accepted", tc.value)
			}
		})
	}
}

func TestSessionSignerSecretMismatch(t *testing.T) {
	token := uuid.New().String()
	value := NewSessionSigner("secret-a").Sign(token)

	if _, ok := NewSessionSigner("secret-b").Verify(value); ok {
		t.Error("token signed with a different secret accepted")
	}
}
