package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"escrowflow/api"
	"escrowflow/auth"
	"escrowflow/marketplace"
	"escrowflow/test/memstore"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "api-test-secret"

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	handler http.Handler
	engine  *marketplace.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log, _ := test.NewNullLogger()
	store := memstore.New()
	var seq atomic.Int64
	eng, err := marketplace.New(store.Deps(log), marketplace.Options{
		Now:   func() time.Time { return t0 },
		NewID: func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	})
	require.NoError(t, err)
	require.NoError(t, eng.Bootstrap(ctx, []string{"admin"}))

	_, err = eng.RegisterIdentity(ctx, "client", false)
	require.NoError(t, err)
	for _, f := range []string{"alice", "bob"} {
		_, err := eng.RegisterIdentity(ctx, f, true)
		require.NoError(t, err)
	}
	_, err = eng.Mint(ctx, "admin", "client", 5000)
	require.NoError(t, err)

	authn := auth.NewService(newUserStore(), secret, time.Hour).WithClock(func() time.Time { return t0 })
	srv := api.NewServer(eng, authn, log, api.Options{})
	return &fixture{handler: srv.Routes(), engine: eng}
}

func tokenFor(t *testing.T, caller string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": caller,
		"iat":     t0.Unix(),
		"exp":     t0.Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, caller))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f *fixture) postJob(t *testing.T, budget int64) int64 {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/jobs", "client", map[string]any{
		"content_ref": "ipfs://job",
		"budget":      budget,
		"deadline":    t0.Add(30 * 24 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return int64(decodeBody(t, rec)["id"].(float64))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["paused"])
}

func TestAuth_RegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	creds := map[string]any{"email": "dana@example.com", "password": "long-enough", "full_name": "Dana"}

	rec := f.do(t, http.MethodPost, "/api/v1/auth/register", "", creds)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	userID := decodeBody(t, rec)["id"].(string)

	rec = f.do(t, http.MethodPost, "/api/v1/auth/register", "", creds)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": "dana@example.com", "password": "long-enough"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	token := body["token"].(string)
	assert.NotEmpty(t, token)
	assert.Equal(t, t0.Add(time.Hour).Format(time.RFC3339), body["expires_at"])

	// The issued token authenticates the registered user as a marketplace caller.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/identities", strings.NewReader(`{"freelancer":true}`))
	req.Header.Set("Authorization", "Bearer "+token)
	out := httptest.NewRecorder()
	f.handler.ServeHTTP(out, req)
	require.Equal(t, http.StatusCreated, out.Code, out.Body.String())
	assert.Equal(t, userID, decodeBody(t, out)["address"])

	rec = f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": "dana@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_RegisterRejectsWeakPassword(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email": "eve@example.com", "password": "short", "full_name": "Eve",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/jobs/0", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/0", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	out := httptest.NewRecorder()
	f.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusUnauthorized, out.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/0", nil)
	req.Header.Set("Authorization", "Token abc")
	out = httptest.NewRecorder()
	f.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusUnauthorized, out.Code)
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	jobID := f.postJob(t, 1000)
	jobPath := fmt.Sprintf("/api/v1/jobs/%d", jobID)

	rec := f.do(t, http.MethodPost, jobPath+"/proposals", "alice", map[string]any{
		"bid": 1000, "content_ref": "ipfs://alice", "delivery_time": t0.Add(7 * 24 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	aliceProposal := int64(decodeBody(t, rec)["id"].(float64))

	rec = f.do(t, http.MethodPost, jobPath+"/proposals", "bob", map[string]any{
		"bid": 900, "content_ref": "ipfs://bob", "delivery_time": t0.Add(5 * 24 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bobProposal := int64(decodeBody(t, rec)["id"].(float64))

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/proposals/%d/accept", aliceProposal), "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "authorization_error", decodeBody(t, rec)["kind"])

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/proposals/%d/accept", aliceProposal), "client", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	accepted := decodeBody(t, rec)
	assert.Equal(t, "in_progress", accepted["job"].(map[string]any)["status"])
	assert.Equal(t, []any{float64(bobProposal)}, accepted["rejected"])

	rec = f.do(t, http.MethodPost, jobPath+"/submissions", "alice", map[string]any{"work_ref": "ipfs://work"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	subID := int64(decodeBody(t, rec)["id"].(float64))

	rec = f.do(t, http.MethodPost, fmt.Sprintf("%s/submissions/%d/approve", jobPath, subID), "client", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeBody(t, rec)
	assert.Equal(t, "completed", approved["job"].(map[string]any)["status"])
	assert.Equal(t, float64(0), approved["job"].(map[string]any)["escrowed"])

	rec = f.do(t, http.MethodGet, "/api/v1/accounts/alice/balance", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1000), decodeBody(t, rec)["balance"])

	rec = f.do(t, http.MethodPost, jobPath+"/cancel", "client", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state_transition", decodeBody(t, rec)["kind"])

	rec = f.do(t, http.MethodGet, "/api/v1/freelancers/bob/proposals", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bobs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bobs))
	require.Len(t, bobs, 1)
	assert.Equal(t, "rejected", bobs[0]["status"])
}

func TestCreateJob_ValidationDetails(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", "client", map[string]any{
		"budget":   500,
		"deadline": t0.Add(time.Hour),
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Validation failed", body.Error)
	assert.Equal(t, "Field Validation Failed on 'required' tag", body.Details["ContentRef"])
}

func TestCreateJob_RejectsMalformedBodies(t *testing.T) {
	f := newFixture(t)

	cases := map[string]string{
		"unknown field": `{"content_ref":"x","budget":500,"extra":true}`,
		"two objects":   `{"content_ref":"x","budget":500}{"content_ref":"y"}`,
		"not json":      `budget=500`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/jobs", "client", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateJob_BelowMinimumBudget(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", "client", map[string]any{
		"content_ref": "ipfs://job",
		"budget":      50,
		"deadline":    t0.Add(24 * time.Hour),
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeBody(t, rec)["kind"])
}

func TestGetJob_PathErrors(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/jobs/abc", "client", nil).Code)
	rec := f.do(t, http.MethodGet, "/api/v1/jobs/42", "client", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["kind"])
}

func TestPauseBlocksMutationsButNotReads(t *testing.T) {
	f := newFixture(t)
	jobID := f.postJob(t, 500)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/v1/admin/pause", "client", nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/admin/pause", "admin", nil).Code)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", "client", map[string]any{
		"content_ref": "ipfs://job", "budget": 500, "deadline": t0.Add(24 * time.Hour),
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "paused", decodeBody(t, rec)["kind"])

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/jobs/%d", jobID), "client", nil).Code)
	health := decodeBody(t, f.do(t, http.MethodGet, "/health", "", nil))
	assert.Equal(t, true, health["paused"])

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/admin/unpause", "admin", nil).Code)
	f.postJob(t, 500)
}

func TestEscrowEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/admin/roles", "admin", map[string]any{"address": "admin", "role": "escrow-manager"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/api/v1/admin/roles", "admin", map[string]any{"address": "bob", "role": "overlord"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/escrows", "admin", map[string]any{
		"job_id": 77, "client": "client", "freelancer": "alice", "amount": 600,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "active", decodeBody(t, rec)["status"])

	rec = f.do(t, http.MethodPost, "/api/v1/escrows/77/funds", "client", map[string]any{"amount": 400})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1000), decodeBody(t, rec)["balance"])

	rec = f.do(t, http.MethodPost, "/api/v1/escrows/77/disputes", "alice", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "disputed", decodeBody(t, rec)["escrow"].(map[string]any)["status"])

	rec = f.do(t, http.MethodPost, "/api/v1/escrows/77/disputes/resolve", "admin", map[string]any{"winner": "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resolved := decodeBody(t, rec)
	assert.Equal(t, "released", resolved["escrow"].(map[string]any)["status"])
	assert.Equal(t, "resolved", resolved["dispute"].(map[string]any)["status"])

	rec = f.do(t, http.MethodGet, "/api/v1/escrows/77/disputes", "client", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/accounts/alice/balance", "alice", nil)
	assert.Equal(t, float64(1000), decodeBody(t, rec)["balance"])

	rec = f.do(t, http.MethodDelete, "/api/v1/admin/roles", "admin", map[string]any{"address": "admin", "role": "escrow-manager"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/api/v1/escrows/77/refund", "admin", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIdentityEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/identities/alice/ratings", "client", map[string]any{"score": 4})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/api/v1/identities/alice/ratings", "bob", map[string]any{"score": 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(90), decodeBody(t, rec)["reputation"])

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/identities/alice/ratings", "client", map[string]any{"score": 6}).Code)

	rec = f.do(t, http.MethodPut, "/api/v1/identities/alice/active", "client", map[string]any{"active": false})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, http.MethodPut, "/api/v1/identities/alice/active", "client", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/identities/nobody", "client", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/admin/mint", "admin", map[string]any{"to": "bob", "amount": 250})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(250), decodeBody(t, rec)["balance"])

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/v1/admin/mint", "bob", map[string]any{"to": "bob", "amount": 250}).Code)
}

type userStore struct {
	mu      sync.Mutex
	byEmail map[string]auth.User
	byID    map[string]auth.User
	next    int
}

func newUserStore() *userStore {
	return &userStore{byEmail: map[string]auth.User{}, byID: map[string]auth.User{}}
}

func (s *userStore) CreateUser(_ context.Context, params auth.CreateUserParams) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[params.Email]; ok {
		return auth.User{}, auth.ErrDuplicateEmail
	}
	s.next++
	u := auth.User{
		ID:           fmt.Sprintf("user-%d", s.next),
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
	s.byEmail[u.Email] = u
	s.byID[u.ID] = u
	return u, nil
}

func (s *userStore) GetUserByEmail(_ context.Context, email string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byEmail[email]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

func (s *userStore) GetUserByID(_ context.Context, id string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

