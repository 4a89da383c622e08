package service

import (
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/warden/core"
)

const (
	// DefaultChallengeTTL is how long an issued challenge may be answered
	DefaultChallengeTTL = 5 * time.Minute

	nonceLength   = 16
	nonceAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// ChallengeIssuer produces sign-in challenges bound to an address and chain
type ChallengeIssuer struct {
	domain string
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
}

// NewChallengeIssuer creates a challenge issuer for domain
func NewChallengeIssuer(domain string, ttl time.Duration) *ChallengeIssuer {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &ChallengeIssuer{
		domain: domain,
		ttl:    ttl,
		now:    time.Now,
		random: rand.Reader,
	}
}

// TTL returns how long issued challenges stay valid
func (i *ChallengeIssuer) TTL() time.Duration {
	return i.ttl
}

// GenerateChallenge creates a new challenge for address on chain. The
// address is embedded as given; callers sanitize it first.
func (i *ChallengeIssuer) GenerateChallenge(address string, chain core.ChainKind) (*core.Challenge, error) {
	nonce, err := generateNonce(i.random, nonceLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := i.now().Truncate(time.Millisecond)
	challenge := &core.Challenge{
		ID:        uuid.New().String(),
		Address:   address,
		Chain:     chain,
		Nonce:     nonce,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
		Domain:    i.domain,
	}
	challenge.Message = RenderChallengeMessage(challenge)

	return challenge, nil
}

// RenderChallengeMessage renders the exact text a wallet signs for c. The
// output depends only on Domain, Chain, Address, Nonce and IssuedAt.
func RenderChallengeMessage(c *core.Challenge) string {
	var b strings.Builder
	b.WriteString(c.Domain)
	b.WriteString(" wants you to sign in with your ")
	b.WriteString(c.Chain.DisplayName())
	b.WriteString(" account:\n")
	b.WriteString(c.Address)
	b.WriteString("\n\n")
	b.WriteString("Sign this message to prove you own this wallet. ")
	b.WriteString("This request will not trigger a blockchain transaction or cost any fees.\n\n")
	b.WriteString("Chain: ")
	b.WriteString(string(c.Chain))
	b.WriteString("\nNonce: ")
	b.WriteString(c.Nonce)
	b.WriteString("\nIssued At: ")
	b.WriteString(strconv.FormatInt(c.IssuedAt.UnixMilli(), 10))
	b.WriteString("\nDomain: ")
	b.WriteString(c.Domain)
	return b.String()
}

// generateNonce returns n random base-36 characters. Bytes at or above the
// largest multiple of 36 are rejected to keep the distribution uniform.
func generateNonce(r io.Reader, n int) (string, error) {
	const limit = 256 - 256%len(nonceAlphabet)

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, nonceAlphabet[int(b)%len(nonceAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
