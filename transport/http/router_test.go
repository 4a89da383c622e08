package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/warden/adapters/store"
	"github.com/layer-3/warden/adapters/tokenizer"
	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/service"
	"github.com/layer-3/warden/signature"
)

const testIP = "192.0.2.1"

type downBlacklist struct{}

func (downBlacklist) GetBlacklistEntry(context.Context, string) (*core.BlacklistEntry, error) {
	return nil, errors.New("connection refused")
}

func (downBlacklist) AddBlacklistEntry(context.Context, core.BlacklistEntry) error {
	return errors.New("connection refused")
}

func (downBlacklist) RemoveBlacklistEntry(context.Context, string) error {
	return errors.New("connection refused")
}

type testServer struct {
	router    *gin.Engine
	store     *store.MemoryStore
	blacklist *service.Blacklist
	guard     *service.Guard
}

func newTestServer(t *testing.T, limit int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	mem := store.NewMemoryStore()
	activity := service.NewActivityScorer(mem, nil, time.Second, nil)
	blacklist := service.NewBlacklist(mem, time.Second, nil)
	guard := service.NewGuard(
		blacklist,
		service.NewRateLimiter(mem, time.Second),
		service.NewDeviceTracker(mem, time.Second),
		activity,
		service.GuardConfig{},
		nil,
	)
	auth := service.NewAuthService(
		service.NewChallengeIssuer("app.example.com", time.Minute),
		tokenizer.NewJWTTokenizer(key),
		mem,
		signature.NewVerifier(nil),
		activity,
		time.Second,
		nil,
	)

	router := SetupRouter(auth, guard, service.RateLimitRule{Limit: limit, Window: time.Minute}, nil)
	return &testServer{router: router, store: mem, blacklist: blacklist, guard: guard}
}

func (s *testServer) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = testIP + ":40000"

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRouter_ChallengeAndVerify(t *testing.T) {
	s := newTestServer(t, 10)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	w := s.post(t, "/auth/challenge", gin.H{"address": strings.ToLower(addr), "chain": "Ethereum"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	challenge := decode(t, w)
	assert.Equal(t, addr, challenge["address"])
	assert.Equal(t, "ethereum", challenge["chain"])
	message := challenge["message"].(string)

	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)

	w = s.post(t, "/auth/verify", gin.H{
		"token":     challenge["token"],
		"address":   addr,
		"signature": hexutil.Encode(sig),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode(t, w)
	assert.Equal(t, true, res["valid"])
	assert.Equal(t, addr, res["address"])

	w = s.post(t, "/auth/verify", gin.H{
		"token":     challenge["token"],
		"address":   addr,
		"signature": hexutil.Encode(sig),
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_VerifyGenericFailure(t *testing.T) {
	s := newTestServer(t, 10)

	w := s.post(t, "/auth/challenge", gin.H{"address": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "chain": "base"})
	require.Equal(t, http.StatusOK, w.Code)
	token := decode(t, w)["token"]

	w = s.post(t, "/auth/verify", gin.H{
		"token":     token,
		"address":   "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"signature": "0x1234",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "signature does not match", decode(t, w)["error"])

	events := s.store.Activities()
	require.Len(t, events, 1)
	assert.Equal(t, core.ActivityInvalidSignature, events[0].Kind)
	assert.Equal(t, testIP, events[0].Context["ip"])
}

func TestRouter_ChallengeValidation(t *testing.T) {
	s := newTestServer(t, 10)

	w := s.post(t, "/auth/challenge", gin.H{"address": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.post(t, "/auth/challenge", gin.H{"address": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "chain": "dogecoin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Unsupported chain", decode(t, w)["error"])

	w = s.post(t, "/auth/challenge", gin.H{"address": "not-an-address", "chain": "solana"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid address", decode(t, w)["error"])
}

func TestRouter_VerifyInvalidToken(t *testing.T) {
	s := newTestServer(t, 10)

	w := s.post(t, "/auth/verify", gin.H{"token": "garbage", "address": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "signature": "0x00"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid challenge token", decode(t, w)["error"])
}

func TestRouter_RateLimited(t *testing.T) {
	s := newTestServer(t, 2)
	body := gin.H{"address": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "chain": "ethereum"}

	for i := 0; i < 2; i++ {
		w := s.post(t, "/auth/challenge", body)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := s.post(t, "/auth/challenge", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, 60)
	assert.Equal(t, float64(retryAfter), decode(t, w)["retryAfter"])
}

func TestRouter_Blacklisted(t *testing.T) {
	s := newTestServer(t, 10)
	require.NoError(t, s.blacklist.Add(context.Background(), testIP, "manual", 0))

	w := s.post(t, "/auth/challenge", gin.H{"address": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "chain": "ethereum"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestGuardMiddleware_StoreUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mem := store.NewMemoryStore()
	guard := service.NewGuard(
		service.NewBlacklist(downBlacklist{}, time.Second, nil),
		service.NewRateLimiter(mem, time.Second),
		service.NewDeviceTracker(mem, time.Second),
		service.NewActivityScorer(mem, nil, time.Second, nil),
		service.GuardConfig{},
		nil,
	)

	var recorded *gin.Error
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Next()
		recorded = c.Errors.Last()
	})
	router.Use(GuardMiddleware(guard, nil))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NotNil(t, recorded)
	assert.ErrorIs(t, recorded.Err, core.ErrStoreUnavailable)
}

func TestGuardMiddleware_NewDevice(t *testing.T) {
	s := newTestServer(t, 10)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(ContextKeyUserID, "user-1")
		c.Next()
	})
	router.Use(GuardMiddleware(s.guard, nil))
	router.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"new_device": c.GetBool(ContextKeyNewDevice)})
	})

	for _, want := range []bool{true, false} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(HeaderDeviceFingerprint, "fp-hash")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, want, decode(t, w)["new_device"])
	}

	devices, err := s.store.ListDevices(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/ok", Health(nil))
	router.GET("/down", Health(func(context.Context) error { return errors.New("redis down") }))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/down", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
