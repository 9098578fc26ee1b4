package health

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// Check reports whether one dependency is usable.
type Check func() bool

// Manager tracks service readiness. It is ready when the ready flag is set
// and every registered check passes.
type Manager struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks map[string]Check
}

func NewManager(initialReady bool) *Manager {
	m := &Manager{checks: map[string]Check{}}
	m.ready.Store(initialReady)
	return m
}

func (m *Manager) SetReady(ready bool) {
	m.ready.Store(ready)
}

// AddCheck registers a named readiness check.
func (m *Manager) AddCheck(name string, check Check) {
	m.mu.Lock()
	m.checks[name] = check
	m.mu.Unlock()
}

// Status returns overall readiness and the names of failing checks.
func (m *Manager) Status() (bool, []string) {
	m.mu.RLock()
	var failing []string
	for name, check := range m.checks {
		if !check() {
			failing = append(failing, name)
		}
	}
	m.mu.RUnlock()
	sort.Strings(failing)
	return m.ready.Load() && len(failing) == 0, failing
}

func (m *Manager) IsReady() bool {
	ok, _ := m.Status()
	return ok
}

func LivenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func ReadinessHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, failing := m.Status()
		if ok {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "failing": failing})
	}
}
