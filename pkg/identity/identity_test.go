package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/assetdepot/depot/pkg/depot/errs"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func newTestStore(t *testing.T) *UserStore {
	t.Helper()
	store := NewUserStore(setupTestDB(t))
	require.NoError(t, store.AutoMigrate())
	return store
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.Contains(t, hash, "pbkdf2_sha256$")

	ok, err := VerifyPassword("hunter2", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	_, err := VerifyPassword("x", "not-a-hash")
	assert.True(t, errs.Validation.Has(err))

	_, err = VerifyPassword("x", "md5$1$c2FsdA==$ZGlnZXN0")
	assert.True(t, errs.Validation.Has(err))
}

func TestTokenRoundTrip(t *testing.T) {
	cfg := DefaultTokenConfig()
	id := Identity{UserID: "user-1", Username: "ada", Role: "member"}

	token, err := IssueToken(cfg, id)
	require.NoError(t, err)

	parsed, err := ParseToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestTokenWrongSecretRejected(t *testing.T) {
	cfg := DefaultTokenConfig()
	token, err := IssueToken(cfg, Identity{UserID: "user-1", Username: "ada"})
	require.NoError(t, err)

	other := DefaultTokenConfig()
	other.Secret = "different-secret"
	_, err = ParseToken(other, token)
	assert.True(t, errs.Permission.Has(err))
}

func TestTokenExpiryRejected(t *testing.T) {
	cfg := DefaultTokenConfig()
	cfg.Lifetime = -time.Minute

	token, err := IssueToken(cfg, Identity{UserID: "user-1", Username: "ada"})
	require.NoError(t, err)

	_, err = ParseToken(cfg, token)
	assert.True(t, errs.Permission.Has(err))
}

func TestCreateAndAuthenticate(t *testing.T) {
	store := newTestStore(t)

	user, err := store.Create("ada", "hunter2", "member")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.NotEqual(t, "hunter2", user.PasswordHash)

	id, err := store.Authenticate("ada", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, id.UserID)
	assert.Equal(t, "ada", id.Username)
	assert.Equal(t, "member", id.Role)

	_, err = store.Authenticate("ada", "wrong")
	assert.True(t, errs.Permission.Has(err))

	_, err = store.Authenticate("nobody", "hunter2")
	assert.True(t, errs.Permission.Has(err))
}

func TestGetByUsername(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create("ada", "hunter2", AdminRole)
	require.NoError(t, err)

	user, err := store.GetByUsername("ada")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, created.ID, user.ID)

	missing, err := store.GetByUsername("nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMiddlewareBearerToken(t *testing.T) {
	cfg := DefaultTokenConfig()
	token, err := IssueToken(cfg, Identity{UserID: "user-1", Username: "ada", Role: AdminRole})
	require.NoError(t, err)

	var got Identity
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", got.UserID)
	assert.True(t, got.Admin())
}

func TestMiddlewareRejectsBadToken(t *testing.T) {
	handler := Middleware(DefaultTokenConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRemoteUserHeaders(t *testing.T) {
	var got Identity
	handler := Middleware(DefaultTokenConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Remote-User", "ada")
	req.Header.Set("X-Remote-Role", "admin")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "ada", got.Username)
	assert.True(t, got.Admin())
}

func TestRequireIdentity(t *testing.T) {
	handler := RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), Identity{UserID: "user-1"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
