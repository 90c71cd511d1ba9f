// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// PublicKeyHash derives the RSA hash field value for a PEM public key.
// Zynq stores SHA-256 of the DER key, the UltraScale families SHA3-384.
func PublicKeyHash(v Variant, pemData []byte) ([]byte, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found: %w", ErrNullInput)
	}

	der := block.Bytes
	switch block.Type {
	case "PUBLIC KEY":
		pub, err := x509.ParsePKIXPublicKey(der)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		if _, ok := pub.(*rsa.PublicKey); !ok {
			return nil, fmt.Errorf("public key is %T, want RSA", pub)
		}
	case "RSA PUBLIC KEY":
		if _, err := x509.ParsePKCS1PublicKey(der); err != nil {
			return nil, fmt.Errorf("parse RSA public key: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported PEM type %q", block.Type)
	}

	switch v {
	case VariantZynq:
		sum := sha256.Sum256(der)
		return sum[:], nil
	case VariantUltraScale, VariantUltraScalePlus:
		sum := sha3.Sum384(der)
		return sum[:], nil
	}
	return nil, fmt.Errorf("no RSA hash defined for %s", v)
}
