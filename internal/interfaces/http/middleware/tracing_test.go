package middleware

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	prev := otel.GetTracerProvider()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)

	t.Cleanup(func() {
		_ = tp.Shutdown(t.Context())
		otel.SetTracerProvider(prev)
	})
	return sr
}

func tracedRouter() *gin.Engine {
	router := gin.New()
	router.Use(RequestID(), TracingWithConfig(DefaultTracingConfig()), SpanAttributes())
	return router
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracingWithConfig_Disabled(t *testing.T) {
	sr := setupTestTracer(t)

	router := gin.New()
	router.Use(TracingWithConfig(TracingConfig{Enabled: false}))
	router.GET("/test", func(c *gin.Context) {
		assert.False(t, trace.SpanFromContext(c.Request.Context()).SpanContext().IsValid())
		c.Status(http.StatusOK)
	})

	w := serve(router, http.MethodGet, "/test", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sr.Ended())
}

func TestSpanAttributes_AccountRoute(t *testing.T) {
	sr := setupTestTracer(t)

	router := tracedRouter()
	router.POST("/accounts/:account_key/sync", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := serve(router, http.MethodPost, "/accounts/ACME/sync", map[string]string{RequestIDHeader: "req-42"})
	require.Equal(t, http.StatusOK, w.Code)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	span := spans[0]

	v, ok := spanAttr(span, "account_key")
	require.True(t, ok)
	assert.Equal(t, "ACME", v.AsString())
	v, ok = spanAttr(span, "request_id")
	require.True(t, ok)
	assert.Equal(t, "req-42", v.AsString())
	assert.NotEqual(t, codes.Error, span.Status().Code)
}

func TestSpanAttributes_MarksClientErrors(t *testing.T) {
	sr := setupTestTracer(t)

	router := tracedRouter()
	router.POST("/accounts/:account_key/sync", func(c *gin.Context) {
		c.Status(http.StatusConflict)
	})

	serve(router, http.MethodPost, "/accounts/ACME/sync", nil)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "Conflict", spans[0].Status().Description)
}

func TestTracing_SkipsHealth(t *testing.T) {
	sr := setupTestTracer(t)

	router := tracedRouter()
	router.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	serve(router, http.MethodGet, "/health", nil)

	assert.Empty(t, sr.Ended())
}
