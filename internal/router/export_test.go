package router

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// BackendFallbacksCounter exposes the fallback counter to black-box tests.
func BackendFallbacksCounter(t *testing.T) prometheus.Counter {
	t.Helper()
	return backendFallbacks
}
