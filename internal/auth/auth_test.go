package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"planengine/internal/scope"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewManager("s3cret", "planengine")
	token, err := m.GenerateToken("u1", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := m.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "u1" {
		t.Fatalf("user id = %q, want u1", claims.UserID)
	}

	if _, err := NewManager("other", "planengine").ParseToken(token); err == nil {
		t.Fatal("token verified with the wrong secret")
	}
	if _, err := NewManager("s3cret", "elsewhere").ParseToken(token); err == nil {
		t.Fatal("token accepted from another issuer")
	}
}

func TestExpiredToken(t *testing.T) {
	m := NewManager("s3cret", "")
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := m.GenerateToken("u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager("s3cret", "").ParseToken(token); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("err = %v, want expired", err)
	}
}

func TestMissingSecret(t *testing.T) {
	if _, err := NewManager("", "").GenerateToken("u1", time.Hour); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("err = %v, want ErrNoSecret", err)
	}
}

func TestTokenFromRequest(t *testing.T) {
	cases := map[string]struct {
		header string
		want   string
		ok     bool
	}{
		"bearer":     {"Bearer abc", "abc", true},
		"lower case": {"bearer abc", "abc", true},
		"basic":      {"Basic abc", "", false},
		"empty":      {"", "", false},
		"no token":   {"Bearer ", "", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			got, ok := TokenFromRequest(r)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("TokenFromRequest = %q, %v, want %q, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := WithPrincipal(context.Background(), scope.Principal{UserID: "u1"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.UserID != "u1" {
		t.Fatalf("principal = %+v, %v", p, ok)
	}
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("empty context carried a principal")
	}
}
