package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// JWTAuthenticator validates JWT bearer tokens.
type JWTAuthenticator struct {
	algorithm string
	hmacKey   []byte
	rsaPubKey *rsa.PublicKey
	issuer    string
}

// JWTAuthConfig holds JWT authenticator configuration.
type JWTAuthConfig struct {
	Algorithm     string // HS256, RS256
	Secret        string // HMAC secret
	PublicKeyFile string // RSA public key file
	Issuer        string // optional issuer validation
}

// NewJWTAuthenticator builds a JWTAuthenticator from cfg.
func NewJWTAuthenticator(cfg JWTAuthConfig) (*JWTAuthenticator, error) {
	a := &JWTAuthenticator{algorithm: cfg.Algorithm, issuer: cfg.Issuer}

	switch cfg.Algorithm {
	case "HS256":
		if cfg.Secret == "" {
			return nil, fmt.Errorf("JWT secret required for HS256")
		}
		a.hmacKey = []byte(cfg.Secret)
	case "RS256":
		if cfg.PublicKeyFile == "" {
			return nil, fmt.Errorf("public key file required for RS256")
		}
		pubKey, err := loadRSAPublicKey(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load public key: %w", err)
		}
		a.rsaPubKey = pubKey
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", cfg.Algorithm)
	}

	return a, nil
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(r *http.Request) *Identity {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return nil
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")

	claims, err := a.validateToken(token)
	if err != nil {
		return nil
	}

	subject := "unknown"
	if sub, ok := claims["sub"].(string); ok {
		subject = sub
	}
	admin := false
	if role, ok := claims["role"].(string); ok {
		admin = role == "admin"
	}

	return &Identity{
		Subject: "user:" + subject,
		Admin:   admin,
		Claims:  claims,
	}
}

func (a *JWTAuthenticator) validateToken(tokenStr string) (map[string]any, error) {
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid token format")
	}
	headerB64, payloadB64, signatureB64 := parts[0], parts[1], parts[2]

	headerBytes, err := base64URLDecode(headerB64)
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	if header.Alg != a.algorithm {
		return nil, fmt.Errorf("algorithm mismatch: expected %s, got %s", a.algorithm, header.Alg)
	}

	signature, err := base64URLDecode(signatureB64)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	signingInput := headerB64 + "." + payloadB64
	if err := a.verifySignature(signingInput, signature); err != nil {
		return nil, fmt.Errorf("verify signature: %w", err)
	}

	payloadBytes, err := base64URLDecode(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}

	now := time.Now().Unix()
	if exp, ok := claims["exp"].(float64); ok && int64(exp) < now {
		return nil, fmt.Errorf("token expired")
	}
	if nbf, ok := claims["nbf"].(float64); ok && int64(nbf) > now {
		return nil, fmt.Errorf("token not yet valid")
	}
	if a.issuer != "" {
		iss, ok := claims["iss"].(string)
		if !ok || iss != a.issuer {
			return nil, fmt.Errorf("issuer mismatch")
		}
	}

	return claims, nil
}

func (a *JWTAuthenticator) verifySignature(input string, signature []byte) error {
	switch a.algorithm {
	case "HS256":
		return a.verifyHS256(input, signature)
	case "RS256":
		return a.verifyRS256(input, signature)
	default:
		return fmt.Errorf("unsupported algorithm")
	}
}

func (a *JWTAuthenticator) verifyHS256(input string, signature []byte) error {
	mac := hmac.New(sha256.New, a.hmacKey)
	mac.Write([]byte(input))
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

func (a *JWTAuthenticator) verifyRS256(input string, signature []byte) error {
	hashed := sha256.Sum256([]byte(input))
	return rsa.VerifyPKCS1v15(a.rsaPubKey, crypto.SHA256, hashed[:], signature)
}

func base64URLDecode(s string) ([]byte, error) {
	switch len(s) % 4 {
	case 2:
		s += "=="
	case 3:
		s += "="
	}
	return base64.URLEncoding.DecodeString(s)
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPub, nil
}
