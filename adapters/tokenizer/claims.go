package tokenizer

import "github.com/golang-jwt/jwt/v5"

// ChallengeClaims combines standard claims with challenge-specific ones
type ChallengeClaims struct {
	jwt.RegisteredClaims
	Nonce      string `json:"nonce"`
	Chain      string `json:"chain"`
	Domain     string `json:"domain"`
	IssuedAtMs int64  `json:"iat_ms"` // iat only has second precision
}
