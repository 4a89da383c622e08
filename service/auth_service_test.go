package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/warden/adapters/store"
	"github.com/layer-3/warden/adapters/tokenizer"
	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/signature"
)

type authFixture struct {
	svc    *AuthService
	issuer *ChallengeIssuer
	store  *store.MemoryStore
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	mem := store.NewMemoryStore()
	issuer := NewChallengeIssuer("app.example.com", time.Minute)
	svc := NewAuthService(
		issuer,
		tokenizer.NewJWTTokenizer(key),
		mem,
		signature.NewVerifier(nil),
		NewActivityScorer(mem, nil, time.Second, nil),
		time.Second,
		nil,
	)
	return &authFixture{svc: svc, issuer: issuer, store: mem}
}

func signPersonal(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func TestAuthService_EVMLogin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	token, challenge, err := f.svc.CreateChallenge(ctx, strings.ToLower(addr), core.ChainEthereum)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, addr, challenge.Address)
	assert.Contains(t, challenge.Message, addr)

	res, err := f.svc.Login(ctx, LoginRequest{
		ChallengeToken: token,
		Address:        strings.ToLower(addr),
		Signature:      signPersonal(t, key, challenge.Message),
		IPAddress:      "1.2.3.4",
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, addr, res.RecoveredAddress)
	assert.Equal(t, core.ChainEthereum, res.Chain)
	assert.Empty(t, f.store.Activities())
}

func TestAuthService_Replay(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	token, challenge, err := f.svc.CreateChallenge(ctx, addr, core.ChainBase)
	require.NoError(t, err)

	req := LoginRequest{
		ChallengeToken: token,
		Address:        addr,
		Signature:      signPersonal(t, key, challenge.Message),
		IPAddress:      "1.2.3.4",
	}
	_, err = f.svc.Login(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, req)
	assert.ErrorIs(t, err, core.ErrChallengeReplayed)

	events := f.store.Activities()
	require.Len(t, events, 1)
	assert.Equal(t, core.ActivityChallengeReplay, events[0].Kind)
	assert.Equal(t, SeverityChallengeReplay, events[0].Severity)
	assert.Equal(t, "1.2.3.4", events[0].Context["ip"])
}

func TestAuthService_WrongSignerConsumesChallenge(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	token, challenge, err := f.svc.CreateChallenge(ctx, addr, core.ChainEthereum)
	require.NoError(t, err)

	res, err := f.svc.Login(ctx, LoginRequest{
		ChallengeToken: token,
		Address:        addr,
		Signature:      signPersonal(t, other, challenge.Message),
	})
	assert.ErrorIs(t, err, core.ErrVerificationFailed)
	assert.False(t, res.Valid)
	assert.Equal(t, core.ErrorKindSignatureMismatch, res.Error)

	events := f.store.Activities()
	require.Len(t, events, 1)
	assert.Equal(t, core.ActivityInvalidSignature, events[0].Kind)
	assert.Equal(t, string(core.ErrorKindSignatureMismatch), events[0].Context["reason"])

	_, err = f.svc.Login(ctx, LoginRequest{
		ChallengeToken: token,
		Address:        addr,
		Signature:      signPersonal(t, key, challenge.Message),
	})
	assert.ErrorIs(t, err, core.ErrChallengeReplayed)
}

func TestAuthService_AddressMismatchKeepsChallenge(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	token, challenge, err := f.svc.CreateChallenge(ctx, addr, core.ChainEthereum)
	require.NoError(t, err)
	sig := signPersonal(t, key, challenge.Message)

	_, err = f.svc.Login(ctx, LoginRequest{
		ChallengeToken: token,
		Address:        "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		Signature:      sig,
	})
	assert.ErrorIs(t, err, core.ErrVerificationFailed)

	_, err = f.svc.Login(ctx, LoginRequest{ChallengeToken: token, Address: addr, Signature: sig})
	assert.NoError(t, err)
}

func TestAuthService_SolanaLogin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	addr := base58.Encode(pub)

	token, challenge, err := f.svc.CreateChallenge(ctx, addr, core.ChainSolana)
	require.NoError(t, err)

	res, err := f.svc.Login(ctx, LoginRequest{
		ChallengeToken: token,
		Address:        addr,
		Signature:      base58.Encode(ed25519.Sign(priv, []byte(challenge.Message))),
	})
	require.NoError(t, err)
	assert.Equal(t, addr, res.RecoveredAddress)
}

func TestAuthService_SuiLogin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	addr := signature.SuiAddressFromPublicKey(pub)

	token, challenge, err := f.svc.CreateChallenge(ctx, addr, core.ChainSui)
	require.NoError(t, err)

	digest := signature.SuiPersonalMessageDigest([]byte(challenge.Message))
	raw := append([]byte{0x00}, ed25519.Sign(priv, digest[:])...)
	raw = append(raw, pub...)

	res, err := f.svc.Login(ctx, LoginRequest{
		ChallengeToken: token,
		Address:        addr,
		Signature:      base64.StdEncoding.EncodeToString(raw),
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestAuthService_CreateChallengeValidation(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.CreateChallenge(ctx, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", core.ChainKind("bitcoin"))
	assert.ErrorIs(t, err, core.ErrUnsupportedChain)

	_, _, err = f.svc.CreateChallenge(ctx, "0x123", core.ChainEthereum)
	assert.ErrorIs(t, err, core.ErrInvalidFormat)

	_, _, err = f.svc.CreateChallenge(ctx, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", core.ChainSolana)
	assert.ErrorIs(t, err, core.ErrInvalidFormat)
}

func TestAuthService_CreateChallengeStoreUnavailable(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	svc := NewAuthService(
		NewChallengeIssuer("app.example.com", time.Minute),
		tokenizer.NewJWTTokenizer(key),
		brokenStore{},
		signature.NewVerifier(nil),
		NewActivityScorer(brokenStore{}, nil, time.Second, nil),
		time.Second,
		nil,
	)

	_, _, err = svc.CreateChallenge(context.Background(), "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", core.ChainEthereum)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestAuthService_ExpiredChallenge(t *testing.T) {
	f := newAuthFixture(t)
	f.issuer.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	token, _, err := f.svc.CreateChallenge(context.Background(), "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", core.ChainEthereum)
	require.NoError(t, err)

	_, err = f.svc.Login(context.Background(), LoginRequest{
		ChallengeToken: token,
		Address:        "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		Signature:      "0x00",
	})
	assert.ErrorIs(t, err, core.ErrChallengeExpired)
}

func TestAuthService_InvalidToken(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), LoginRequest{
		ChallengeToken: "not-a-token",
		Address:        "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		Signature:      "0x00",
	})
	assert.ErrorIs(t, err, core.ErrInvalidChallenge)
}

func TestAuthService_MalformedSignature(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	token, _, err := f.svc.CreateChallenge(ctx, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", core.ChainEthereum)
	require.NoError(t, err)

	res, err := f.svc.Login(ctx, LoginRequest{
		ChallengeToken: token,
		Address:        "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		Signature:      "0xzz",
	})
	assert.ErrorIs(t, err, core.ErrVerificationFailed)
	assert.Equal(t, core.ErrorKindInvalidFormat, res.Error)
}
