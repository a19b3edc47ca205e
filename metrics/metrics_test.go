package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistersDistinctInstancesWithoutPanicking(t *testing.T) {
	require.NotPanics(t, func() {
		New()
		New()
	})
}

func TestHandlerServesCounterValues(t *testing.T) {
	m := New()
	m.PeerErrors.Add(3)
	m.TipHeight.Set(1500)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "hnsresolver_peer_errors_total 3")
	require.Contains(t, body, "hnsresolver_chain_tip_height 1500")
}
