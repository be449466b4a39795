package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestManager(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"NewManagerDisabled", testNewManagerDisabled},
		{"NewManagerNilConfig", testNewManagerNilConfig},
		{"InvalidateProjectsClearsBothCaches", testInvalidateProjectsClearsBothCaches},
		{"NilManagerSafe", testNilManagerSafe},
		{"NilManagerMiddlewarePassesThrough", testNilManagerMiddlewarePassesThrough},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testNewManagerDisabled(t *testing.T) {
	cfg := &Config{Enabled: false}
	if cm := NewManager(cfg); cm != nil {
		t.Fatal("expected nil Manager when disabled")
	}
}

func testNewManagerNilConfig(t *testing.T) {
	if cm := NewManager(nil); cm != nil {
		t.Fatal("expected nil Manager for nil config")
	}
}

func testInvalidateProjectsClearsBothCaches(t *testing.T) {
	cfg := &Config{
		Enabled:          true,
		ProjectListTTL:   5 * time.Second,
		ProjectDetailTTL: 5 * time.Second,
		MaxSize:          100,
	}
	cm := NewManager(cfg)

	cm.list.Set("/api/v1/projects", []byte(`{"projects":[]}`))
	cm.detail.Set("/api/v1/projects/p1", []byte(`{"id":"p1"}`))

	cm.InvalidateProjects()

	if cm.list.Size() != 0 {
		t.Fatalf("expected list cache empty, got size %d", cm.list.Size())
	}
	if cm.detail.Size() != 0 {
		t.Fatalf("expected detail cache empty, got size %d", cm.detail.Size())
	}
}

func testNilManagerSafe(t *testing.T) {
	// All methods on a nil Manager should be no-ops (not panic).
	var cm *Manager
	cm.InvalidateProjects()
	if cm.ListMiddleware() == nil || cm.DetailMiddleware() == nil {
		t.Fatal("expected pass-through middleware from nil Manager")
	}
}

func testNilManagerMiddlewarePassesThrough(t *testing.T) {
	var cm *Manager
	callCount := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusOK)
	})
	wrapped := cm.ListMiddleware()(handler)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
	}

	// Without a cache, every request reaches the handler.
	if callCount != 2 {
		t.Fatalf("expected handler called twice, got %d", callCount)
	}
}
