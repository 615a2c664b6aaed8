package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitect38/xstatenet/internal/orchestrator"
)

type fakeSource struct{ snap orchestrator.Snapshot }

func (f fakeSource) GetStats() orchestrator.Snapshot { return f.snap }

func TestServer_StatsEndpointReturnsSnapshot(t *testing.T) {
	src := fakeSource{snap: orchestrator.Snapshot{RegisteredMachines: 3}}
	s := New(nil, src).WithBreaker("cb1", func() any { return map[string]string{"state": "closed"} })

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3, got.Orchestrator.RegisteredMachines)
	assert.Contains(t, got.Breakers, "cb1")
}
