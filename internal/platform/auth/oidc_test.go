package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func rsaPublicKeyToJWK(privateKey *rsa.PrivateKey, kid string) JWKSKey {
	pub := &privateKey.PublicKey
	return JWKSKey{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func newJWKSServer(t *testing.T, keys ...JWKSKey) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JWKSResponse{Keys: keys})
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestOIDCProvider_Discovery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":   "https://accounts.example.com",
			"jwks_uri": "https://accounts.example.com/certs",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	}))
	defer server.Close()

	provider, err := NewOIDCProvider(context.Background(), server.URL+"/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.JWKSURI != "https://accounts.example.com/certs" {
		t.Errorf("unexpected jwks_uri %q", provider.JWKSURI)
	}
	if len(provider.IDTokenSigningAlgValues) != 1 || provider.IDTokenSigningAlgValues[0] != "RS256" {
		t.Errorf("unexpected algs %v", provider.IDTokenSigningAlgValues)
	}
}

func TestOIDCProvider_InvalidIssuer(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	if _, err := NewOIDCProvider(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for 404 discovery endpoint")
	}
}

func TestOIDCProvider_MissingJWKSURI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"issuer": "x"})
	}))
	defer server.Close()

	if _, err := NewOIDCProvider(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for missing jwks_uri")
	}
}

func TestJWKSCache_FetchAndCache(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv, hits := newJWKSServer(t, rsaPublicKeyToJWK(key, "k1"))

	cache := NewJWKSCache(srv.URL, 5*time.Minute)
	got, err := cache.GetKey(context.Background(), "k1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.N.Cmp(key.PublicKey.N) != 0 {
		t.Error("modulus mismatch")
	}
	if _, err := cache.GetKey(context.Background(), "k1"); err != nil {
		t.Fatalf("second GetKey: %v", err)
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Errorf("expected one fetch, got %d", n)
	}
}

func TestJWKSCache_UnknownKidRefetches(t *testing.T) {
	srv, hits := newJWKSServer(t)
	cache := NewJWKSCache(srv.URL, 5*time.Minute)

	if _, err := cache.GetKey(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
	if _, err := cache.GetKey(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
	if n := atomic.LoadInt32(hits); n != 2 {
		t.Errorf("expected a refetch per miss, got %d fetches", n)
	}
}

func TestJWKSCache_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewJWKSCache(srv.URL, time.Minute).GetKey(context.Background(), "any"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseRSAPublicKey_Invalid(t *testing.T) {
	if _, err := parseRSAPublicKey(JWKSKey{N: "!!!", E: "AQAB"}); err == nil {
		t.Error("expected error for invalid modulus")
	}
	if _, err := parseRSAPublicKey(JWKSKey{N: "AQAB", E: "!!!"}); err == nil {
		t.Error("expected error for invalid exponent")
	}
}

func TestKeyFunc_NoKidHeader(t *testing.T) {
	cache := NewJWKSCache("http://127.0.0.1:0", time.Minute)
	if _, err := cache.KeyFunc(context.Background())(&jwt.Token{Header: map[string]any{}}); err == nil {
		t.Fatal("expected error for token without kid")
	}
}
