package dispatch

import (
	"testing"

	"shipper-agent/internal/config"
	"shipper-agent/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&config.LoggerConfig{Level: "error"})
}

func TestIssueAndVerifyToken(t *testing.T) {
	issuer := NewTokenIssuer(&config.AuthConfig{JWTSecret: "test-secret", TokenTTL: 1})

	token, err := issuer.Issue("shp-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	shipperID, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if shipperID != "shp-1" {
		t.Errorf("Expected shipper shp-1, got %q", shipperID)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer(&config.AuthConfig{JWTSecret: "test-secret", TokenTTL: 1})
	other := NewTokenIssuer(&config.AuthConfig{JWTSecret: "other-secret", TokenTTL: 1})

	token, err := other.Issue("shp-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := issuer.Verify(token); err == nil {
		t.Error("Expected verification to fail for foreign token")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := NewTokenIssuer(&config.AuthConfig{JWTSecret: "test-secret", TokenTTL: 1})
	if _, err := issuer.Verify("not-a-token"); err == nil {
		t.Error("Expected verification to fail")
	}
}

func TestOTPDemoCode(t *testing.T) {
	store := NewOTPStore("000000", testLogger())

	shipperID, err := store.Verify("+84900000001", "000000")
	if err != nil {
		t.Fatalf("Demo code rejected: %v", err)
	}
	if shipperID == "" {
		t.Fatal("Expected shipper id")
	}

	// Same phone keeps the same shipper identity across logins.
	again, err := store.Verify("+84900000001", "000000")
	if err != nil {
		t.Fatalf("Second login failed: %v", err)
	}
	if again != shipperID {
		t.Errorf("Shipper id changed between logins: %q vs %q", shipperID, again)
	}
}

func TestOTPRejectsWrongCode(t *testing.T) {
	store := NewOTPStore("", testLogger())

	if err := store.Request("+84900000002"); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if _, err := store.Verify("+84900000002", "999999"); err == nil {
		t.Error("Expected wrong code to be rejected")
	}
	if _, err := store.Verify("+84900000003", "123456"); err == nil {
		t.Error("Expected unknown phone to be rejected")
	}
}
