package model

import "github.com/golang-jwt/jwt/v5"

// LeaseClaims are JWT claims binding a relay identity to the socket that opened it
type LeaseClaims struct {
	PeerID string `json:"peerId"`
	jwt.RegisteredClaims
}
