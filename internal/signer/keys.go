package signer

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/cloudfront/sign"
)

// ErrInvalidKey is returned for key material that is not an RSA private key
var ErrInvalidKey = errors.New("invalid RSA private key")

// parsePrivateKey accepts a PEM encoded RSA key in PKCS#1 or PKCS#8 form.
// Keys stored in environment variables often carry literal "\n" sequences or
// are base64 encoded as a whole; both are normalized first.
func parsePrivateKey(material string) (*rsa.PrivateKey, error) {
	material = strings.TrimSpace(strings.ReplaceAll(material, `\n`, "\n"))
	if material == "" {
		return nil, ErrInvalidKey
	}
	if !strings.HasPrefix(material, "-----BEGIN") {
		decoded, err := base64.StdEncoding.DecodeString(material)
		if err != nil {
			return nil, fmt.Errorf("%w: not PEM and not base64", ErrInvalidKey)
		}
		material = string(decoded)
	}

	if key, err := sign.LoadPEMPrivKey(strings.NewReader(material)); err == nil {
		return key, nil
	}

	block, _ := pem.Decode([]byte(material))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidKey)
	}
	return key, nil
}
