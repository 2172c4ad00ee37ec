package importer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smilemakc/caseorch/internal/domain"
)

type fakeStore struct {
	domain.Storage
	byEmail map[string]*domain.Case
	saved   []*domain.Case
}

func newFakeStore() *fakeStore {
	return &fakeStore{byEmail: make(map[string]*domain.Case)}
}

func (s *fakeStore) FindCaseByAgencyEmail(ctx context.Context, email string) (*domain.Case, error) {
	return s.byEmail[email], nil
}

func (s *fakeStore) SaveCase(ctx context.Context, c *domain.Case) error {
	s.saved = append(s.saved, c)
	s.byEmail[c.Agency.Email] = c
	return nil
}

func TestNotionClientFetchRowsParsesProperties(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("expected bearer auth, got %q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{
					"id": "page-1",
					"properties": map[string]any{
						"Agency":          map[string]any{"title": []map[string]any{{"plain_text": "Springfield PD"}}},
						"Email":           map[string]any{"email": "records@springfield.example"},
						"Portal URL":      map[string]any{"url": "https://portal.example/springfield"},
						"Portal Provider": map[string]any{"select": map[string]any{"name": "NextRequest"}},
						"Jurisdiction":    map[string]any{"rich_text": []map[string]any{{"plain_text": "US-IL"}}},
						"Autopilot Mode":  map[string]any{"select": map[string]any{"name": "AUTO"}},
					},
				},
			},
			"has_more": false,
		})
	}))
	defer srv.Close()

	client := NewNotionClient(srv.URL, "secret", "db-1")
	rows, err := client.FetchRows(context.Background())
	if err != nil {
		t.Fatalf("fetch rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.AgencyName != "Springfield PD" || row.AgencyEmail != "records@springfield.example" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.PortalProvider != "NextRequest" || row.JurisdictionCode != "US-IL" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.AutopilotMode != domain.AutopilotAuto {
		t.Fatalf("expected AUTO, got %s", row.AutopilotMode)
	}
}

type stubClient struct {
	rows []Row
}

func (c stubClient) FetchRows(ctx context.Context) ([]Row, error) { return c.rows, nil }

func TestSyncCreatesOnlyNewCases(t *testing.T) {
	store := newFakeStore()
	store.byEmail["existing@example.com"] = &domain.Case{ID: "case-existing"}

	client := stubClient{rows: []Row{
		{AgencyEmail: "existing@example.com", AgencyName: "Already Here"},
		{AgencyEmail: "new@example.com", AgencyName: "New Agency", AutopilotMode: domain.AutopilotSupervised},
		{AgencyEmail: ""},
	}}
	im := New(client, store)

	result, err := im.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Created != 1 || result.Skipped != 1 {
		t.Fatalf("expected 1 created, 1 skipped, got %+v", result)
	}
	if len(store.saved) != 1 || store.saved[0].Agency.Email != "new@example.com" {
		t.Fatalf("unexpected saved cases: %+v", store.saved)
	}
}
