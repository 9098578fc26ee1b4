package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewManager(false)
	loaded := false
	m.AddCheck("catalog", func() bool { return loaded })

	r := gin.New()
	r.GET("/health", LivenessHandler)
	r.GET("/ready", ReadinessHandler(m))

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, get("/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready").Code)

	m.SetReady(true)
	w := get("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "catalog")

	loaded = true
	assert.Equal(t, http.StatusOK, get("/ready").Code)
	assert.True(t, m.IsReady())
}
