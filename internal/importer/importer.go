// Package importer is the Notion case-importer collaborator's client
// seam (§3: cases are "created by the Notion importer (external)").
// It never runs the import loop itself — Sync is a pull driven by
// cmd/casectl or a cron trigger — it only knows how to fetch rows from
// a Notion database and turn them into Cases the Store can persist.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/smilemakc/caseorch/internal/domain"
)

// Row is one Notion database row shaped into the fields a Case needs.
// Field-to-property mapping lives entirely in the Client; Row is the
// importer's internal, already-normalized representation.
type Row struct {
	ExternalID       string
	AgencyName       string
	AgencyEmail      string
	PortalURL        string
	PortalProvider   string
	JurisdictionCode string
	AutopilotMode    domain.AutopilotMode
}

// Client fetches case rows from an external source. No Notion SDK
// appears anywhere in the example pack, so NotionClient talks to
// Notion's documented REST API directly over net/http, the same
// posture as mail.HTTPProvider and notify.SlackWebhookChannel.
type Client interface {
	FetchRows(ctx context.Context) ([]Row, error)
}

// NotionClient queries a single Notion database for rows via the
// "query a database" REST endpoint.
type NotionClient struct {
	apiBase    string
	apiKey     string
	databaseID string
	client     *http.Client
}

// NewNotionClient constructs a NotionClient. apiBase is normally
// "https://api.notion.com/v1"; overridable so tests can point it at an
// httptest server.
func NewNotionClient(apiBase, apiKey, databaseID string) *NotionClient {
	return &NotionClient{
		apiBase:    apiBase,
		apiKey:     apiKey,
		databaseID: databaseID,
		client:     &http.Client{Timeout: 20 * time.Second},
	}
}

type notionQueryResponse struct {
	Results []notionPage `json:"results"`
	HasMore bool         `json:"has_more"`
}

type notionPage struct {
	ID         string                     `json:"id"`
	Properties map[string]notionProperty `json:"properties"`
}

type notionProperty struct {
	Title []notionRichText `json:"title,omitempty"`
	RichText []notionRichText `json:"rich_text,omitempty"`
	Email    string           `json:"email,omitempty"`
	URL      string           `json:"url,omitempty"`
	Select   *notionSelect    `json:"select,omitempty"`
}

type notionRichText struct {
	PlainText string `json:"plain_text"`
}

type notionSelect struct {
	Name string `json:"name"`
}

func (p notionProperty) plainText() string {
	for _, rt := range p.Title {
		return rt.PlainText
	}
	for _, rt := range p.RichText {
		return rt.PlainText
	}
	return ""
}

func (c *NotionClient) FetchRows(ctx context.Context) ([]Row, error) {
	url := fmt.Sprintf("%s/databases/%s/query", c.apiBase, c.databaseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, fmt.Errorf("importer: build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Notion-Version", "2022-06-28")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("importer: query notion database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("importer: notion returned %d", resp.StatusCode)
	}

	var parsed notionQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("importer: decode notion response: %w", err)
	}

	rows := make([]Row, 0, len(parsed.Results))
	for _, page := range parsed.Results {
		rows = append(rows, rowFromPage(page))
	}
	return rows, nil
}

func rowFromPage(page notionPage) Row {
	row := Row{ExternalID: page.ID, AutopilotMode: domain.AutopilotSupervised}
	if p, ok := page.Properties["Agency"]; ok {
		row.AgencyName = p.plainText()
	}
	if p, ok := page.Properties["Email"]; ok {
		row.AgencyEmail = p.Email
	}
	if p, ok := page.Properties["Portal URL"]; ok {
		row.PortalURL = p.URL
	}
	if p, ok := page.Properties["Portal Provider"]; ok && p.Select != nil {
		row.PortalProvider = p.Select.Name
	}
	if p, ok := page.Properties["Jurisdiction"]; ok {
		row.JurisdictionCode = p.plainText()
	}
	if p, ok := page.Properties["Autopilot Mode"]; ok && p.Select != nil {
		switch p.Select.Name {
		case "AUTO":
			row.AutopilotMode = domain.AutopilotAuto
		case "MANUAL":
			row.AutopilotMode = domain.AutopilotManual
		default:
			row.AutopilotMode = domain.AutopilotSupervised
		}
	}
	return row
}

// Importer turns Client rows into persisted Cases, skipping rows that
// already have a matching case by agency email so repeated syncs are
// idempotent.
type Importer struct {
	client Client
	store  domain.Storage
}

// New constructs an Importer.
func New(client Client, store domain.Storage) *Importer {
	return &Importer{client: client, store: store}
}

// SyncResult reports what one Sync call did.
type SyncResult struct {
	Created int
	Skipped int
}

// Sync fetches rows from the Client and creates a Case for every row
// with no existing case at that agency email.
func (im *Importer) Sync(ctx context.Context) (SyncResult, error) {
	rows, err := im.client.FetchRows(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("importer: fetch rows: %w", err)
	}

	var result SyncResult
	for _, row := range rows {
		if row.AgencyEmail == "" {
			continue
		}
		existing, err := im.store.FindCaseByAgencyEmail(ctx, row.AgencyEmail)
		if err != nil {
			return result, fmt.Errorf("importer: look up existing case for %s: %w", row.AgencyEmail, err)
		}
		if existing != nil {
			result.Skipped++
			continue
		}

		c := &domain.Case{
			ID: uuid.NewString(),
			Agency: domain.Agency{
				Name:           row.AgencyName,
				Email:          row.AgencyEmail,
				PortalURL:      row.PortalURL,
				PortalProvider: row.PortalProvider,
			},
			JurisdictionCode: row.JurisdictionCode,
			Status:           domain.CaseReadyToSend,
			AutopilotMode:    row.AutopilotMode,
		}
		if err := im.store.SaveCase(ctx, c); err != nil {
			return result, fmt.Errorf("importer: save case for %s: %w", row.AgencyEmail, err)
		}
		result.Created++
	}
	return result, nil
}
