package ports

import "github.com/layer-3/warden/core"

// ChallengeTokenizer converts between challenges and signed tokens
type ChallengeTokenizer interface {
	ChallengeToToken(challenge *core.Challenge) (string, error)
	TokenToChallenge(token string) (*core.Challenge, error)
}
