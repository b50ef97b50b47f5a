package dispatch

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"shipper-agent/internal/config"
	"shipper-agent/internal/logger"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

// TokenIssuer signs and verifies shipper session tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates a token issuer from the auth configuration.
func NewTokenIssuer(cfg *config.AuthConfig) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(cfg.JWTSecret),
		ttl:    time.Duration(cfg.TokenTTL) * time.Hour,
	}
}

// Issue signs a token for the shipper.
func (t *TokenIssuer) Issue(shipperID string) (string, error) {
	claims := jwt.MapClaims{
		"shipper_id": shipperID,
		"exp":        time.Now().Add(t.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses the token and returns the shipper id it was issued to.
func (t *TokenIssuer) Verify(tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	shipperID, ok := claims["shipper_id"].(string)
	if !ok || shipperID == "" {
		return "", fmt.Errorf("token missing shipper id")
	}
	return shipperID, nil
}

// OTPStore issues and checks one-time login codes. Codes live in memory:
// a restart simply forces a fresh request.
type OTPStore struct {
	mu       sync.Mutex
	codes    map[string]string
	shippers map[string]string // phone -> shipper id, stable across logins
	demoCode string
	log      *logger.Logger
}

// NewOTPStore creates the OTP store. When demoCode is non-empty it is
// accepted for any phone, which keeps local runs scriptable.
func NewOTPStore(demoCode string, log *logger.Logger) *OTPStore {
	return &OTPStore{
		codes:    make(map[string]string),
		shippers: make(map[string]string),
		demoCode: demoCode,
		log:      log,
	}
}

// Request generates a code for the phone number. A real deployment would
// hand the code to an SMS gateway; here it is logged.
func (s *OTPStore) Request(phone string) error {
	code, err := generateOTP()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.codes[phone] = code
	s.mu.Unlock()

	s.log.WithFields(map[string]interface{}{
		"phone": phone,
		"code":  code,
	}).Info("OTP issued")
	return nil
}

// Verify checks the code and returns the shipper id for the phone.
func (s *OTPStore) Verify(phone, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expected, requested := s.codes[phone]
	demoOK := s.demoCode != "" && code == s.demoCode
	if !demoOK && (!requested || code != expected) {
		return "", fmt.Errorf("invalid verification code")
	}
	delete(s.codes, phone)

	shipperID, ok := s.shippers[phone]
	if !ok {
		shipperID = uuid.New().String()
		s.shippers[phone] = shipperID
	}
	return shipperID, nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
