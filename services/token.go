package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"support-chat/models"

	"github.com/dgrijalva/jwt-go"
	"github.com/redis/go-redis/v9"
)

// TokenVerifier turns a bearer credential into a caller identity.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (models.Identity, error)
}

// RevocationList reports whether a credential has been revoked.
type RevocationList interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Subject accepts user ids issued as JSON strings or numbers.
type Subject string

func (s *Subject) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = Subject(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = Subject(n.String())
	return nil
}

// Claims is the payload of an identity token.
type Claims struct {
	UserID Subject `json:"user_id"`
	Role   string  `json:"role"`
	Name   string  `json:"name"`
	jwt.StandardClaims
}

// JWTVerifier validates HS256 tokens and consults an optional revocation list.
type JWTVerifier struct {
	secret  []byte
	revoked RevocationList
}

func NewJWTVerifier(secret string, revoked RevocationList) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), revoked: revoked}
}

func (v *JWTVerifier) VerifyToken(ctx context.Context, tokenString string) (models.Identity, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return models.Identity{}, models.AuthFailedf("authentication required")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return models.Identity{}, models.AuthFailedf("invalid or expired token")
	}
	if claims.UserID == "" {
		return models.Identity{}, models.AuthFailedf("token has no subject")
	}
	if v.revoked != nil {
		revoked, err := v.revoked.IsRevoked(ctx, tokenString)
		if err != nil {
			return models.Identity{}, models.Unavailablef("revocation list unavailable")
		}
		if revoked {
			return models.Identity{}, models.AuthFailedf("token has been revoked")
		}
	}
	role := claims.Role
	if role == "" {
		role = "user"
	}
	name := claims.Name
	if name == "" {
		name = string(claims.UserID)
	}
	return models.Identity{UserID: string(claims.UserID), Role: role, DisplayName: name}, nil
}

// SignToken issues a token for ident. Used by tooling and tests.
func SignToken(secret string, ident models.Identity, expiresAt int64) (string, error) {
	claims := Claims{
		UserID: Subject(ident.UserID),
		Role:   ident.Role,
		Name:   ident.DisplayName,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expiresAt,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// RedisRevocations reads revoked tokens from "blacklist:<token>" keys.
type RedisRevocations struct {
	rdb *redis.Client
}

func NewRedisRevocations(rdb *redis.Client) *RedisRevocations {
	return &RedisRevocations{rdb: rdb}
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.rdb.Exists(ctx, "blacklist:"+token).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
