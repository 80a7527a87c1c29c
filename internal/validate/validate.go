// Package validate performs offline structural checks on secret values by
// kind. It never contacts a provider.
package validate

import (
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/joelhooks/scoped-secrets/internal/types"
)

// ErrInvalidFormat is wrapped by every validation failure.
var ErrInvalidFormat = errors.New("invalid secret format")

// Structural validates values against the shape expected for their kind.
type Structural struct{}

// Validate returns nil if value is well-formed for kind.
func (Structural) Validate(kind types.SecretKind, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidFormat)
	}

	switch kind {
	case types.KindURL:
		u, err := url.Parse(value)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: not an absolute http(s) url", ErrInvalidFormat)
		}
	case types.KindPrivateKey:
		block, _ := pem.Decode([]byte(value))
		if block == nil || !strings.HasSuffix(block.Type, "PRIVATE KEY") {
			return fmt.Errorf("%w: not a PEM private key", ErrInvalidFormat)
		}
	case types.KindPublicKey:
		if block, _ := pem.Decode([]byte(value)); block != nil {
			if !strings.HasSuffix(block.Type, "PUBLIC KEY") {
				return fmt.Errorf("%w: PEM block %q is not a public key", ErrInvalidFormat, block.Type)
			}
			return nil
		}
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(value)); err != nil {
			return fmt.Errorf("%w: not a PEM or OpenSSH public key", ErrInvalidFormat)
		}
	case types.KindConfig:
		if !json.Valid([]byte(value)) {
			return fmt.Errorf("%w: config is not valid JSON", ErrInvalidFormat)
		}
	case types.KindAPIKey, types.KindCredential:
		if strings.ContainsAny(value, " \t\r\n") {
			return fmt.Errorf("%w: contains whitespace", ErrInvalidFormat)
		}
	}
	return nil
}
