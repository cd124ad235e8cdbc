package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func jwksServer(t *testing.T, kid string, key *rsa.PublicKey, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestJWKSClientCachesKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	var hits atomic.Int32
	srv := jwksServer(t, "kid-1", &key.PublicKey, &hits)
	client := NewJWKSClient(srv.URL, time.Minute)

	for i := 0; i < 3; i++ {
		pub, err := client.Key(context.Background(), "kid-1")
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		if pub.N.Cmp(key.PublicKey.N) != 0 || pub.E != key.PublicKey.E {
			t.Fatal("fetched key does not match")
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected one fetch, got %d", got)
	}

	if _, err := client.Key(context.Background(), "kid-2"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestJWKSClientServesStaleKeysWhenRefreshFails(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	var hits atomic.Int32
	srv := jwksServer(t, "kid-1", &key.PublicKey, &hits)
	client := NewJWKSClient(srv.URL, time.Minute)
	if _, err := client.Key(context.Background(), "kid-1"); err != nil {
		t.Fatalf("Key: %v", err)
	}

	srv.Close()
	client.fetched = time.Now().Add(-time.Hour)
	if _, err := client.Key(context.Background(), "kid-1"); err != nil {
		t.Fatalf("expected stale key after failed refresh, got %v", err)
	}
}

func TestVerifierDispatchesOnAlgorithm(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	var hits atomic.Int32
	srv := jwksServer(t, "kid-1", &key.PublicKey, &hits)
	claims := NewClaims("user-1", "doctor", time.Hour)
	claims.DoctorID = "doc-1"

	rsToken, err := SignRS256(claims, key, "kid-1")
	if err != nil {
		t.Fatalf("SignRS256: %v", err)
	}
	hsToken, err := SignHS256(claims, "secret")
	if err != nil {
		t.Fatalf("SignHS256: %v", err)
	}

	both := Verifier{Secret: "secret", Keys: NewJWKSClient(srv.URL, time.Minute)}
	for _, token := range []string{rsToken, hsToken} {
		got, err := both.Verify(context.Background(), token)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if got.DoctorID != "doc-1" {
			t.Fatalf("unexpected claims %+v", got)
		}
	}

	hsOnly := Verifier{Secret: "secret"}
	if _, err := hsOnly.Verify(context.Background(), rsToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected RS256 to be rejected without a key source, got %v", err)
	}
	if (Verifier{}).Enabled() {
		t.Fatal("zero verifier should report disabled")
	}
}
