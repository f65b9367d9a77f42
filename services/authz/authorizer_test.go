package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/apiauth/models"
	"github.com/upb/apiauth/services"
	"github.com/upb/apiauth/services/decisioncache"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// iamServer is a fake policy service that counts calls and records the last request
type iamServer struct {
	*httptest.Server
	calls atomic.Int32

	mu       sync.Mutex
	status   int
	response interface{}
	lastPath string
	lastBody validateRequest
}

func newIAMServer(t *testing.T, response interface{}) *iamServer {
	s := &iamServer{status: http.StatusOK, response: response}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.lastPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&s.lastBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.status)
		_ = json.NewEncoder(w).Encode(s.response)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *iamServer) respond(status int, response interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.response = response
}

// MockStore is a mock implementation of decisioncache.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) Set(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) Stats() decisioncache.Stats {
	return decisioncache.Stats{}
}

func (m *MockStore) Close() error {
	return nil
}

var (
	readR1          = []models.PermissionRequest{models.NewPermissionRequest([]string{"r1"}, "read")}
	policies        = []models.ValidPolicy{{PolicyFrn: "frn::t1:iam/policy/p1", StatementID: "s1"}}
	grantedDecision = models.PolicyDecision{Valid: true, ValidPolicies: policies, Checksum: "c1"}
	deniedDecision  = models.PolicyDecision{
		Valid:          false,
		ValidPolicies:  policies,
		InvalidRequest: readR1,
		Message:        "denied",
	}
)

func newTestAuthorizer(server *iamServer, cache decisioncache.Store) *Authorizer {
	return NewAuthorizer(NewIAMClient(IAMConfig{BaseURL: server.URL}), cache, zap.NewNop())
}

func memoryCache(t *testing.T) decisioncache.Store {
	store := decisioncache.NewMemoryStore(0, time.Minute)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAuthorize_GrantIsCached(t *testing.T) {
	server := newIAMServer(t, grantedDecision)
	authorizer := newTestAuthorizer(server, memoryCache(t))
	user := models.NewUserIdentity("u1", "", false)
	ctx := context.Background()

	require.NoError(t, authorizer.Authorize(ctx, user, readR1, Options{Mode: models.ModeTenant}))
	require.NoError(t, authorizer.Authorize(ctx, user, readR1, Options{Mode: models.ModeTenant}))

	assert.Equal(t, int32(1), server.calls.Load())
	assert.Equal(t, "/api/v1/validate/users/u1", server.lastPath)
	assert.Equal(t, models.ModeTenant, server.lastBody.Mode)
	assert.Equal(t, readR1, server.lastBody.RequestedAccess)
}

func TestAuthorize_CacheIsPerPrincipalAndRequest(t *testing.T) {
	server := newIAMServer(t, grantedDecision)
	authorizer := newTestAuthorizer(server, memoryCache(t))
	ctx := context.Background()

	require.NoError(t, authorizer.Authorize(ctx, models.NewUserIdentity("u1", "", false), readR1, Options{}))
	require.NoError(t, authorizer.Authorize(ctx, models.NewUserIdentity("u2", "", false), readR1, Options{}))
	writeR1 := []models.PermissionRequest{models.NewPermissionRequest([]string{"r1"}, "write")}
	require.NoError(t, authorizer.Authorize(ctx, models.NewUserIdentity("u1", "", false), writeR1, Options{}))

	assert.Equal(t, int32(3), server.calls.Load())
}

func TestAuthorize_DenialIsNotCached(t *testing.T) {
	server := newIAMServer(t, deniedDecision)
	cache := memoryCache(t)
	authorizer := newTestAuthorizer(server, cache)
	user := models.NewUserIdentity("u1", "", false)
	ctx := context.Background()

	err := authorizer.Authorize(ctx, user, readR1, Options{})

	require.Error(t, err)
	assert.True(t, services.IsForbiddenError(err))
	assert.Equal(t, "denied", services.GetErrorMessage(err))
	gotPolicies, gotRequests := services.ForbiddenDetails(err)
	assert.Equal(t, policies, gotPolicies)
	assert.Equal(t, readR1, gotRequests)

	found, cacheErr := cache.Get(ctx, decisioncache.Key("u1", "c1"))
	require.NoError(t, cacheErr)
	assert.False(t, found)

	err = authorizer.Authorize(ctx, user, readR1, Options{})
	assert.True(t, services.IsForbiddenError(err))
	assert.Equal(t, int32(2), server.calls.Load())
	assert.Equal(t, 0, cache.Stats().Size)
}

func TestAuthorize_DenialDefaultMessage(t *testing.T) {
	server := newIAMServer(t, models.PolicyDecision{Valid: false, InvalidRequest: readR1})
	authorizer := newTestAuthorizer(server, nil)

	err := authorizer.Authorize(context.Background(), models.NewUserIdentity("u1", "", false), readR1, Options{})

	assert.True(t, services.IsForbiddenError(err))
	assert.Equal(t, "IAM validation failed", services.GetErrorMessage(err))
}

func TestAuthorize_DenialWithErrorStatus(t *testing.T) {
	server := newIAMServer(t, deniedDecision)
	server.respond(http.StatusForbidden, deniedDecision)
	authorizer := newTestAuthorizer(server, nil)

	err := authorizer.Authorize(context.Background(), models.NewUserIdentity("u1", "", false), readR1, Options{})

	assert.True(t, services.IsForbiddenError(err))
	assert.Equal(t, "denied", services.GetErrorMessage(err))
}

func TestAuthorize_AdminBypass(t *testing.T) {
	ctx := context.Background()
	admin := models.NewUserIdentity("admin-1", "", true)

	t.Run("allowed admin skips cache and policy service", func(t *testing.T) {
		server := newIAMServer(t, deniedDecision)
		store := new(MockStore)
		authorizer := newTestAuthorizer(server, store)

		err := authorizer.Authorize(ctx, admin, readR1, Options{AllowAdmin: true})

		assert.NoError(t, err)
		assert.Equal(t, int32(0), server.calls.Load())
		store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
		store.AssertNotCalled(t, "Set", mock.Anything, mock.Anything)
	})

	t.Run("admin is evaluated normally when bypass is off", func(t *testing.T) {
		server := newIAMServer(t, deniedDecision)
		authorizer := newTestAuthorizer(server, memoryCache(t))

		err := authorizer.Authorize(ctx, admin, readR1, Options{AllowAdmin: false})

		assert.True(t, services.IsForbiddenError(err))
		assert.Equal(t, int32(1), server.calls.Load())
	})

	t.Run("api keys never bypass", func(t *testing.T) {
		server := newIAMServer(t, grantedDecision)
		authorizer := newTestAuthorizer(server, nil)
		key := &models.Identity{Kind: models.AuthKindAPIKey, ID: "k1", IsAdmin: true}

		require.NoError(t, authorizer.Authorize(ctx, key, readR1, Options{AllowAdmin: true}))
		assert.Equal(t, int32(1), server.calls.Load())
		assert.Equal(t, "/api/v1/validate/keys/k1", server.lastPath)
	})
}

func TestAuthorize_PolicyServiceFailureFailsClosed(t *testing.T) {
	ctx := context.Background()
	user := models.NewUserIdentity("u1", "", false)

	t.Run("server error", func(t *testing.T) {
		server := newIAMServer(t, map[string]string{"error": "boom"})
		server.respond(http.StatusInternalServerError, map[string]string{"error": "boom"})
		authorizer := newTestAuthorizer(server, memoryCache(t))

		err := authorizer.Authorize(ctx, user, readR1, Options{})

		assert.True(t, services.IsForbiddenError(err))
		assert.Equal(t, "authorization service unavailable", services.GetErrorMessage(err))
		assert.ErrorIs(t, err, ErrPolicyServiceUnavailable)
		assert.Equal(t, int32(1), server.calls.Load())
	})

	t.Run("valid true with error status is not a grant", func(t *testing.T) {
		server := newIAMServer(t, grantedDecision)
		server.respond(http.StatusBadGateway, grantedDecision)
		authorizer := newTestAuthorizer(server, memoryCache(t))

		err := authorizer.Authorize(ctx, user, readR1, Options{})
		assert.True(t, services.IsForbiddenError(err))
	})

	t.Run("unreachable", func(t *testing.T) {
		server := newIAMServer(t, grantedDecision)
		server.Close()
		authorizer := newTestAuthorizer(server, memoryCache(t))

		err := authorizer.Authorize(ctx, user, readR1, Options{})
		assert.ErrorIs(t, err, ErrPolicyServiceUnavailable)
	})
}

func TestAuthorize_CacheFailuresAreAbsorbed(t *testing.T) {
	server := newIAMServer(t, grantedDecision)
	store := new(MockStore)
	store.On("Get", mock.Anything, mock.Anything).Return(false, errors.New("store down"))
	store.On("Set", mock.Anything, mock.Anything).Return(errors.New("store down"))
	authorizer := newTestAuthorizer(server, store)

	err := authorizer.Authorize(context.Background(), models.NewUserIdentity("u1", "", false), readR1, Options{})

	assert.NoError(t, err)
	assert.Equal(t, int32(1), server.calls.Load())
	store.AssertExpectations(t)
}

func TestAuthorize_ProbeAndStoreUseTheSameKey(t *testing.T) {
	server := newIAMServer(t, models.PolicyDecision{Valid: true, Checksum: "server-side-checksum"})
	store := new(MockStore)
	checksum, err := decisioncache.Checksum(readR1)
	require.NoError(t, err)
	key := decisioncache.Key("u1", checksum)
	store.On("Get", mock.Anything, key).Return(false, nil)
	store.On("Set", mock.Anything, key).Return(nil)
	authorizer := newTestAuthorizer(server, store)

	require.NoError(t, authorizer.Authorize(context.Background(), models.NewUserIdentity("u1", "", false), readR1, Options{}))
	store.AssertExpectations(t)
}

func TestAuthorize_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("nil identity is unauthorized", func(t *testing.T) {
		server := newIAMServer(t, grantedDecision)
		authorizer := newTestAuthorizer(server, nil)

		err := authorizer.Authorize(ctx, nil, readR1, Options{})

		assert.True(t, services.IsUnauthorizedError(err))
		assert.Equal(t, int32(0), server.calls.Load())
	})

	t.Run("empty request list succeeds without calls", func(t *testing.T) {
		server := newIAMServer(t, deniedDecision)
		store := new(MockStore)
		authorizer := newTestAuthorizer(server, store)

		assert.NoError(t, authorizer.Authorize(ctx, models.NewUserIdentity("u1", "", false), nil, Options{}))
		assert.Equal(t, int32(0), server.calls.Load())
		store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})

	t.Run("malformed request is left to IAM", func(t *testing.T) {
		server := newIAMServer(t, grantedDecision)
		core, logs := observer.New(zap.WarnLevel)
		authorizer := NewAuthorizer(NewIAMClient(IAMConfig{BaseURL: server.URL}), nil, zap.New(core))
		bad := []models.PermissionRequest{{Action: models.Action{""}, Resource: []string{"r1"}}}

		err := authorizer.Authorize(ctx, models.NewUserIdentity("u1", "", false), bad, Options{})

		assert.NoError(t, err)
		assert.Equal(t, int32(1), server.calls.Load())
		require.Equal(t, 1, logs.FilterMessage("malformed permission request").Len())
		fields := logs.FilterMessage("malformed permission request").All()[0].ContextMap()["fields"]
		assert.Contains(t, fields, "PermissionRequest.Action[0]")
	})

	t.Run("request without resources follows the IAM verdict", func(t *testing.T) {
		server := newIAMServer(t, deniedDecision)
		authorizer := newTestAuthorizer(server, nil)
		bad := []models.PermissionRequest{models.NewPermissionRequest(nil, "read")}

		err := authorizer.Authorize(ctx, models.NewUserIdentity("u1", "", false), bad, Options{})

		assert.True(t, services.IsForbiddenError(err))
		assert.Equal(t, int32(1), server.calls.Load())
	})
}

func TestIAMClient_EscapesPrincipalID(t *testing.T) {
	server := newIAMServer(t, grantedDecision)
	client := NewIAMClient(IAMConfig{BaseURL: server.URL + "/"})

	decision, err := client.Validate(context.Background(), models.PrincipalUsers, "a/b", models.ModeOrganization, readR1)

	require.NoError(t, err)
	assert.True(t, decision.Valid)
	assert.Equal(t, "c1", decision.Checksum)
	assert.Equal(t, models.ModeOrganization, server.lastBody.Mode)
	assert.Equal(t, int32(1), server.calls.Load())
}

func TestIAMClient_OversizedResponseIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"valid":true,"checksum":"`))
		_, _ = w.Write([]byte(strings.Repeat("c", maxResponseBytes)))
		_, _ = w.Write([]byte(`"}`))
	}))
	t.Cleanup(server.Close)
	client := NewIAMClient(IAMConfig{BaseURL: server.URL})

	_, err := client.Validate(context.Background(), models.PrincipalUsers, "u1", models.ModeOrganization, readR1)

	assert.ErrorIs(t, err, ErrPolicyServiceUnavailable)
}
