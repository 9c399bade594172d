package middleware

import (
	"net/http"
	"runtime/pprof"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestProfiling_AddsLabels(t *testing.T) {
	router := gin.New()
	router.Use(ProfilingWithConfig(DefaultProfilingConfig()))

	var route, method, account string
	router.POST("/accounts/:account_key/sync", func(c *gin.Context) {
		ctx := c.Request.Context()
		route, _ = pprof.Label(ctx, ProfilingLabelRoute)
		method, _ = pprof.Label(ctx, ProfilingLabelMethod)
		account, _ = pprof.Label(ctx, ProfilingLabelAccountKey)
		c.Status(http.StatusOK)
	})

	w := serve(router, http.MethodPost, "/accounts/ACME/sync", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/accounts/:account_key/sync", route)
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "ACME", account)
}

func TestProfiling_SkipPaths(t *testing.T) {
	router := gin.New()
	router.Use(ProfilingWithConfig(DefaultProfilingConfig()))

	labelled := true
	router.GET("/health", func(c *gin.Context) {
		_, labelled = pprof.Label(c.Request.Context(), ProfilingLabelRoute)
		c.Status(http.StatusOK)
	})

	serve(router, http.MethodGet, "/health", nil)

	assert.False(t, labelled)
}

func TestProfiling_Disabled(t *testing.T) {
	router := gin.New()
	router.Use(ProfilingWithConfig(ProfilingConfig{Enabled: false}))

	labelled := true
	router.GET("/test", func(c *gin.Context) {
		_, labelled = pprof.Label(c.Request.Context(), ProfilingLabelRoute)
		c.Status(http.StatusOK)
	})

	serve(router, http.MethodGet, "/test", nil)

	assert.False(t, labelled)
}
