package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/warden/core"
)

const AudienceChallenge = "warden:challenge"

// JWTTokenizer implements the ChallengeTokenizer interface using ES256 JWTs
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey) *JWTTokenizer {
	return &JWTTokenizer{signKey: signKey}
}

// ChallengeToToken converts a Challenge to a JWT token
func (j *JWTTokenizer) ChallengeToToken(challenge *core.Challenge) (string, error) {
	claims := ChallengeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   challenge.Address,
			ID:        challenge.ID,
			ExpiresAt: jwt.NewNumericDate(challenge.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(challenge.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceChallenge},
		},
		Nonce:      challenge.Nonce,
		Chain:      string(challenge.Chain),
		Domain:     challenge.Domain,
		IssuedAtMs: challenge.IssuedAt.UnixMilli(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// TokenToChallenge converts a JWT token back to a Challenge. The rendered
// message is not part of the token and is left empty.
func (j *JWTTokenizer) TokenToChallenge(tokenStr string) (*core.Challenge, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ChallengeClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(AudienceChallenge), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, core.ErrChallengeExpired
		}
		return nil, fmt.Errorf("failed to parse token: %w: %w", core.ErrInvalidChallenge, err)
	}

	if !token.Valid {
		return nil, core.ErrInvalidChallenge
	}

	claims, ok := token.Claims.(*ChallengeClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type: %w", core.ErrInvalidChallenge)
	}
	if claims.Nonce == "" || claims.Subject == "" {
		return nil, core.ErrInvalidChallenge
	}

	return &core.Challenge{
		ID:        claims.ID,
		Address:   claims.Subject,
		Chain:     core.ChainKind(claims.Chain),
		Nonce:     claims.Nonce,
		IssuedAt:  time.UnixMilli(claims.IssuedAtMs),
		ExpiresAt: claims.ExpiresAt.Time,
		Domain:    claims.Domain,
	}, nil
}
