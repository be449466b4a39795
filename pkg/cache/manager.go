package cache

import "net/http"

// Manager holds separate cache instances for the project listing and
// single-project endpoints, each with its own TTL. Project mutations call
// InvalidateProjects so stale reads never outlive a write by more than the
// in-flight requests.
type Manager struct {
	list   *LRUCache
	detail *LRUCache
}

// NewManager creates a Manager from the given configuration.
// If cfg is nil or disabled, it returns nil; a nil Manager is safe to use
// and disables caching entirely.
func NewManager(cfg *Config) *Manager {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &Manager{
		list:   NewLRUCache(cfg.MaxSize, cfg.ProjectListTTL),
		detail: NewLRUCache(cfg.MaxSize, cfg.ProjectDetailTTL),
	}
}

// InvalidateProjects clears both project caches. Called after any project
// create, update, or archive.
func (cm *Manager) InvalidateProjects() {
	if cm == nil {
		return
	}
	cm.list.InvalidateAll()
	cm.detail.InvalidateAll()
}

// ListMiddleware returns caching middleware for the project listing route.
// On a nil Manager it returns a pass-through.
func (cm *Manager) ListMiddleware() func(http.Handler) http.Handler {
	if cm == nil {
		return passthrough
	}
	return Middleware(cm.list)
}

// DetailMiddleware returns caching middleware for single-project routes.
// On a nil Manager it returns a pass-through.
func (cm *Manager) DetailMiddleware() func(http.Handler) http.Handler {
	if cm == nil {
		return passthrough
	}
	return Middleware(cm.detail)
}

func passthrough(next http.Handler) http.Handler { return next }
