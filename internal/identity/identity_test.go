package identity

import (
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"branchstock/backend/internal/domain"
)

func TestDecodeRoundTripNormalises(t *testing.T) {
	d, err := NewDecoder("test-secret")
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	token, err := d.Sign(domain.Principal{Username: " An.Nguyen ", Role: domain.RoleBranch, Branch: "cn1"}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	p, err := d.Decode(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Username != "an.nguyen" || p.Branch != "CN1" || p.Role != domain.RoleBranch {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestDecodeRejectsBadTokens(t *testing.T) {
	d, _ := NewDecoder("test-secret")
	other, _ := NewDecoder("other-secret")

	wrongKey, _ := other.Sign(domain.Principal{Username: "u", Role: domain.RoleCompany}, time.Minute)
	expired, _ := d.Sign(domain.Principal{Username: "u", Role: domain.RoleCompany}, -time.Minute)
	noBranch, _ := d.Sign(domain.Principal{Username: "u", Role: domain.RoleUser}, time.Minute)
	badRole, _ := d.Sign(domain.Principal{Username: "u", Role: "Root"}, time.Minute)
	none, _ := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.MapClaims{"sub": "u", "role": "Company"}).
		SignedString(jwtlib.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{
		"wrong key": wrongKey, "expired": expired, "no branch": noBranch,
		"bad role": badRole, "alg none": none, "garbage": "not-a-token",
	} {
		if _, err := d.Decode(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestNewDecoderRequiresSecret(t *testing.T) {
	if _, err := NewDecoder("  "); err == nil {
		t.Fatalf("expected empty secret to be rejected")
	}
}

func TestRequireBranchScope(t *testing.T) {
	tests := []struct {
		name   string
		p      domain.Principal
		branch string
		ok     bool
	}{
		{"same branch user", domain.Principal{Username: "u", Role: domain.RoleUser, Branch: "CN1"}, "cn1", true},
		{"branch manager", domain.Principal{Username: "m", Role: domain.RoleBranch, Branch: "CN2"}, "CN2", true},
		{"other branch", domain.Principal{Username: "u", Role: domain.RoleUser, Branch: "CN1"}, "CN2", false},
		{"company is read-only", domain.Principal{Username: "c", Role: domain.RoleCompany}, "CN1", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := RequireBranchScope(tc.p, tc.branch)
			if tc.ok && err != nil {
				t.Fatalf("expected allowed, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrForbidden) {
				t.Fatalf("expected ErrForbidden, got %v", err)
			}
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !IsPasswordHash(hash) || !VerifyPassword(hash, "s3cret") || VerifyPassword(hash, "wrong") {
		t.Fatalf("bcrypt round trip failed")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("expected empty password to be rejected")
	}
}
