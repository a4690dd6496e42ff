package service

import (
	"errors"
	"lototet/internal/model"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// LeaseTTL bounds how long a lease token can reclaim its identity.
const LeaseTTL = 24 * time.Hour

// LeaseService issues and checks relay identity lease tokens
type LeaseService struct {
	secret []byte
}

// NewLeaseService creates a lease service signing with secret
func NewLeaseService(secret string) *LeaseService {
	return &LeaseService{secret: []byte(secret)}
}

// NewPeerID assigns a player identity
func NewPeerID() string {
	return "p_" + uuid.New().String()[:8]
}

// Issue signs a token proving ownership of peerID
func (s *LeaseService) Issue(peerID string) (string, error) {
	now := time.Now()
	claims := &model.LeaseClaims{
		PeerID: peerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(LeaseTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses a lease token and returns its claims
func (s *LeaseService) Validate(tokenString string) (*model.LeaseClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &model.LeaseClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*model.LeaseClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Owns reports whether tokenString is a valid lease for peerID
func (s *LeaseService) Owns(tokenString, peerID string) bool {
	if tokenString == "" {
		return false
	}
	claims, err := s.Validate(tokenString)
	return err == nil && claims.PeerID == peerID
}
