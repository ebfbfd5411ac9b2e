package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("secret", time.Hour)

	tok, err := v.Issue(Identity{UserID: 7, Name: "Nadia", Role: RoleProctor})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	id, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != 7 || id.Role != RoleProctor || id.Name != "Nadia" || id.TokenID == "" {
		t.Errorf("identity = %+v", id)
	}
}

func TestVerifyRejects(t *testing.T) {
	good := NewVerifier("secret", time.Hour)
	expired := NewVerifier("secret", -time.Minute)

	other, _ := NewVerifier("other", time.Hour).Issue(Identity{UserID: 1})
	old, _ := expired.Issue(Identity{UserID: 1})
	noUser, _ := good.Issue(Identity{})

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "not-a-token", ErrInvalidToken},
		{"wrong secret", other, ErrInvalidToken},
		{"expired", old, ErrInvalidToken},
		{"alg none", unsigned, ErrInvalidToken},
		{"missing user", noUser, ErrNoUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := good.Verify(tt.token); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVerifyDefaultsToStudent(t *testing.T) {
	v := NewVerifier("secret", time.Hour)
	tok, _ := v.Issue(Identity{UserID: 3})
	id, err := v.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if id.Role != RoleStudent {
		t.Errorf("role = %q, want student", id.Role)
	}
}
