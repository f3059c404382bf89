package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"support-chat/models"

	"github.com/dgrijalva/jwt-go"
	"github.com/redis/go-redis/v9"
)

const testSecret = "test-secret"

type fakeRevocations struct {
	revoked map[string]bool
	err     error
}

func (f fakeRevocations) IsRevoked(_ context.Context, token string) (bool, error) {
	return f.revoked[token], f.err
}

func TestVerifyToken(t *testing.T) {
	ctx := context.Background()
	v := NewJWTVerifier(testSecret, nil)
	token, err := SignToken(testSecret, sam, time.Now().Add(time.Hour).Unix())
	if err != nil {
		t.Fatal(err)
	}

	ident, err := v.VerifyToken(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if ident != sam {
		t.Fatalf("identity = %+v", ident)
	}
	if _, err := v.VerifyToken(ctx, "Bearer "+token); err != nil {
		t.Fatalf("bearer prefix should be accepted: %v", err)
	}

	other, _ := SignToken("other-secret", sam, time.Now().Add(time.Hour).Unix())
	expired, _ := SignToken(testSecret, sam, time.Now().Add(-time.Minute).Unix())
	for name, tok := range map[string]string{"empty": "", "garbage": "abc.def", "wrong secret": other, "expired": expired} {
		if _, err := v.VerifyToken(ctx, tok); models.KindOf(err) != models.KindAuthFailed {
			t.Errorf("%s: expected auth failure, got %v", name, err)
		}
	}
}

func TestVerifyTokenNumericSubject(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	ident, err := NewJWTVerifier(testSecret, nil).VerifyToken(context.Background(), tok)
	if err != nil {
		t.Fatal(err)
	}
	if ident.UserID != "42" || ident.Role != "user" || ident.DisplayName != "42" {
		t.Fatalf("identity = %+v", ident)
	}
}

func TestVerifyTokenRejectsOtherAlgorithms(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewJWTVerifier(testSecret, nil).VerifyToken(context.Background(), tok); models.KindOf(err) != models.KindAuthFailed {
		t.Fatalf("expected auth failure, got %v", err)
	}
}

func TestVerifyTokenRevocation(t *testing.T) {
	ctx := context.Background()
	token, _ := SignToken(testSecret, alice, time.Now().Add(time.Hour).Unix())

	v := NewJWTVerifier(testSecret, fakeRevocations{revoked: map[string]bool{token: true}})
	if _, err := v.VerifyToken(ctx, token); models.KindOf(err) != models.KindAuthFailed {
		t.Fatalf("revoked token accepted: %v", err)
	}

	v = NewJWTVerifier(testSecret, fakeRevocations{err: errors.New("down")})
	if _, err := v.VerifyToken(ctx, token); models.KindOf(err) != models.KindUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestRedisRevocationsUnreachable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	token, _ := SignToken(testSecret, alice, time.Now().Add(time.Hour).Unix())
	_, err := NewJWTVerifier(testSecret, NewRedisRevocations(rdb)).VerifyToken(context.Background(), token)
	if models.KindOf(err) != models.KindUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
