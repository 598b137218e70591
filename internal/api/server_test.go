package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/bid-tracker/internal/auth"
	"github.com/david/bid-tracker/internal/db"
	"github.com/david/bid-tracker/internal/identity"
	"github.com/david/bid-tracker/internal/ingest"
	"github.com/david/bid-tracker/internal/models"
)

type testServer struct {
	*Server
	token   string
	release chan struct{}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	st, err := db.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	hash, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	authSvc, err := auth.NewService(auth.Config{Username: "operator", PasswordHash: hash, JWTSecret: "api-test"})
	require.NoError(t, err)

	ts := &testServer{release: make(chan struct{})}
	factory := ingest.NewAdapterFactory()
	factory.Register("stub", ingest.AdapterFunc(func(ctx context.Context, src ingest.SourceConfig) (ingest.Collection, error) {
		select {
		case <-ts.release:
		case <-ctx.Done():
			return ingest.Collection{}, ctx.Err()
		}
		return ingest.Collection{Strategy: "stub", Candidates: []models.Candidate{
			{OpportunityNumber: "RFP-100", Title: "Street Light Replacement", DueDate: "12/01/2025"},
			{OpportunityNumber: "RFP-101", Title: "Janitorial Services", DueDate: "12/05/2025"},
		}}, nil
	}))
	reg := &ingest.Registry{Sources: []ingest.SourceConfig{
		{ID: "city-a", Name: "City A", Organization: "City A", Strategy: "stub"},
	}}
	runner := ingest.NewRunner(st, reg, factory)

	ts.Server = NewServer(st, authSvc, runner, Options{RunTimeout: time.Minute})

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/login", `{"username":"operator","password":"hunter22"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var login auth.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	ts.token = login.Token
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	rec := httptest.NewRecorder()
	ts.Echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndLogin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/login", `{"username":"operator","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ts.token = ""
	rec = ts.do(t, http.MethodGet, "/api/v1/opportunities", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestManualEntryAndTriage(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/opportunities",
		`{"organization":"Town of Florence","opportunity_number":"IFB 24-07","title":"Pavement Preservation","due_date":"01/15/2026"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		Result      models.MergeResult `json:"result"`
		Opportunity models.Opportunity `json:"opportunity"`
	}](t, rec)
	id := created.Result.ID
	assert.Equal(t, identity.Derive("Town of Florence", "IFB 24-07"), id)
	assert.Equal(t, models.ProvenanceManual, created.Opportunity.Provenance)
	assert.Equal(t, models.PresenceActive, created.Opportunity.Presence)

	rec = ts.do(t, http.MethodPost, "/api/v1/opportunities", `{"organization":"Town of Florence","title":"No number"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/opportunities/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/opportunities/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/opportunities/"+id+"/decision", `{"decision":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/opportunities/"+id+"/decision", `{"decision":"pursuing","notes":"bid with paving crew"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	opp := decode[models.Opportunity](t, rec)
	assert.Equal(t, models.DecisionPursuing, opp.Decision)

	rec = ts.do(t, http.MethodGet, "/api/v1/opportunities/"+id+"/decisions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.DecisionEntry](t, rec), 1)

	rec = ts.do(t, http.MethodPatch, "/api/v1/opportunities/"+id, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/api/v1/opportunities/"+id, `{"title":"Pavement Preservation Phase 2"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	opp = decode[models.Opportunity](t, rec)
	assert.Equal(t, "Pavement Preservation Phase 2", opp.Title)
	assert.True(t, opp.TitleManuallyEdited)

	rec = ts.do(t, http.MethodGet, "/api/v1/opportunities/"+id+"/revisions", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListFilters(t *testing.T) {
	ts := newTestServer(t)

	for _, body := range []string{
		`{"organization":"City of Mesa","opportunity_number":"RFP-1","title":"Sewer Lining"}`,
		`{"organization":"City of Yuma","opportunity_number":"RFP-2","title":"Fleet Tires"}`,
	} {
		require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/opportunities", body).Code)
	}

	type listResponse struct {
		Data  []models.Opportunity `json:"data"`
		Count int                  `json:"count"`
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/opportunities?presence=active&decision=new", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[listResponse](t, rec).Count)

	rec = ts.do(t, http.MethodGet, "/api/v1/opportunities?organization=City+of+Yuma", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listResponse](t, rec)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "Fleet Tires", list.Data[0].Title)

	rec = ts.do(t, http.MethodGet, "/api/v1/opportunities?presence=gone", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/opportunities?decision=later", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[models.Stats](t, rec)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByDecision[models.DecisionNew])
}

func TestParsePasted(t *testing.T) {
	ts := newTestServer(t)
	text := "Open Solicitations\\nRFP #2025-118 - Water Main Replacement\\nRFP #2025-119 - Custodial Services\\nDue Date\\n11/30/2025\\n"

	rec := ts.do(t, http.MethodPost, "/api/v1/opportunities/parse", `{"organization":"Pinal County","text":"`+text+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[map[string]json.RawMessage](t, rec)
	assert.JSONEq(t, "2", string(preview["count"]))
	assert.NotContains(t, preview, "outcome")

	stats := decode[models.Stats](t, ts.do(t, http.MethodGet, "/api/v1/stats", ""))
	assert.Equal(t, 0, stats.Total)

	rec = ts.do(t, http.MethodPost, "/api/v1/opportunities/parse", `{"organization":"Pinal County","text":"`+text+`","save":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[struct {
		Outcome models.SourceOutcome `json:"outcome"`
	}](t, rec)
	assert.Equal(t, 2, saved.Outcome.Created)

	rec = ts.do(t, http.MethodPost, "/api/v1/opportunities/parse", `{"organization":"Pinal County","text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBackgroundRun(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/admin/runs/current", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/runs/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/runs", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/runs", `{"resume":true}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(ts.release)
	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/api/v1/admin/runs/current", "")
		return rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), `"status":"completed"`)
	}, 5*time.Second, 20*time.Millisecond)

	rec = ts.do(t, http.MethodGet, "/api/v1/runs/latest?format=text", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "city-a")

	rec = ts.do(t, http.MethodGet, "/api/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]json.RawMessage](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/api/v1/checkpoint", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cp := decode[struct {
		Checkpoint models.Checkpoint `json:"checkpoint"`
		Resume     models.ResumeInfo `json:"resume"`
	}](t, rec)
	assert.Equal(t, models.CheckpointCompleted, cp.Checkpoint.Status)
	assert.False(t, cp.Resume.ShouldResume)

	stats := decode[models.Stats](t, ts.do(t, http.MethodGet, "/api/v1/stats", ""))
	assert.Equal(t, 2, stats.Total)
}

func TestSources_ReadOnlyWithoutFile(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct {
		Sources  []ingest.SourceConfig `json:"sources"`
		Editable bool                  `json:"editable"`
	}](t, rec)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "city-a", got.Sources[0].ID)
	assert.False(t, got.Editable)

	rec = ts.do(t, http.MethodPut, "/api/v1/sources", `{"sources":[{"id":"x","url":"https://example.gov/x"}]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSources_Save(t *testing.T) {
	ts := newTestServer(t)
	ts.sourcesFile = filepath.Join(t.TempDir(), "sources.yaml")

	rec := ts.do(t, http.MethodPut, "/api/v1/sources",
		`{"sources":[{"id":"city-a","organization":"City A","strategy":"stub"},{"id":"city-b","organization":"City B","strategy":"stub","disabled":true}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	onDisk, err := ingest.LoadRegistry(ts.sourcesFile)
	require.NoError(t, err)
	require.Len(t, onDisk.Sources, 2)
	assert.True(t, onDisk.Sources[1].Disabled)
	assert.Len(t, ts.Runner.Registry().Sources, 2)
	assert.Len(t, ts.Runner.Registry().Enabled(), 1)

	rec = ts.do(t, http.MethodPut, "/api/v1/sources", `{"sources":[{"id":"a"},{"id":"a"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, ts.Runner.Registry().Sources, 2)

	require.NoError(t, ts.Store.SaveCheckpoint(context.Background(), models.Checkpoint{
		LastIndex:  0,
		LastSource: "city-a",
		Status:     models.CheckpointInProgress,
		UpdatedAt:  time.Now(),
	}))
	rec = ts.do(t, http.MethodPut, "/api/v1/sources", `{"sources":[{"id":"city-c"}]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Len(t, ts.Runner.Registry().Sources, 2)
}
