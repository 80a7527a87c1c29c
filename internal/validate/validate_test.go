package validate

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/joelhooks/scoped-secrets/internal/types"
)

func TestStructural(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privDER, _ := x509.MarshalPKCS8PrivateKey(priv)
	pubDER, _ := x509.MarshalPKIXPublicKey(pub)
	privPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	sshPub, _ := ssh.NewPublicKey(pub)
	authorized := string(ssh.MarshalAuthorizedKey(sshPub))

	tests := []struct {
		name  string
		kind  types.SecretKind
		value string
		ok    bool
	}{
		{"empty", types.KindSecret, "  ", false},
		{"plain secret", types.KindSecret, "anything goes", true},
		{"api key", types.KindAPIKey, "sk-test-123", true},
		{"api key with space", types.KindAPIKey, "sk test", false},
		{"credential newline", types.KindCredential, "user:pass\n", false},
		{"https url", types.KindURL, "https://example.com/hook", true},
		{"relative url", types.KindURL, "/just/a/path", false},
		{"ftp url", types.KindURL, "ftp://example.com", false},
		{"config json", types.KindConfig, `{"a":1}`, true},
		{"config not json", types.KindConfig, `a=1`, false},
		{"private key pem", types.KindPrivateKey, privPEM, true},
		{"private key given public", types.KindPrivateKey, pubPEM, false},
		{"public key pem", types.KindPublicKey, pubPEM, true},
		{"public key openssh", types.KindPublicKey, authorized, true},
		{"public key given private", types.KindPublicKey, privPEM, false},
		{"public key garbage", types.KindPublicKey, "nope", false},
	}

	v := Structural{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.kind, tt.value)
			if tt.ok && err != nil {
				t.Errorf("Validate = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("Validate = %v, want ErrInvalidFormat", err)
			}
		})
	}
}
