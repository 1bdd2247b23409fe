package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/florinutz/ksqlq/health"
	"github.com/florinutz/ksqlq/schema"
)

func TestMetricsServer_Routes(t *testing.T) {
	checker := health.NewChecker(health.ComponentQuery)
	checker.SetStatus(health.ComponentQuery, health.StatusUp, "")
	schemas := schema.NewRegistry()
	schemas.Register("Tweets", schema.ColumnDefs([]string{"ID"}, []string{"INTEGER"}))
	srv := NewMetricsServer(":0", checker, health.NewReadinessChecker(), schemas)

	for _, tc := range []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
		{"/metrics", http.StatusOK},
		{"/schemas/Tweets", http.StatusOK},
		{"/schemas/People", http.StatusNotFound},
		{"/events", http.StatusNotFound},
	} {
		t.Run(tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if rec.Code != tc.want {
				t.Errorf("GET %s = %d, want %d", tc.path, rec.Code, tc.want)
			}
		})
	}
}

func TestMetricsServer_NilCheckers(t *testing.T) {
	srv := NewMetricsServer(":0", nil, nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /healthz = %d, want 404", rec.Code)
	}
}

func TestMetricsServer_Schemas(t *testing.T) {
	schemas := schema.NewRegistry()
	schemas.Register("Tweets", schema.ColumnDefs([]string{"ID", "MESSAGE"}, []string{"INTEGER", "STRING"}))
	srv := NewMetricsServer(":0", nil, nil, schemas)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/schemas/Tweets", nil))

	var got []schema.Version
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Version != 1 || len(got[0].Columns) != 2 || got[0].Columns[1].Type != "STRING" {
		t.Fatalf("got %+v", got)
	}
}
