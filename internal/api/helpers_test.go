package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"beds4crew/internal/config"
	"beds4crew/internal/database"
	"beds4crew/internal/models"
	"beds4crew/internal/service"

	"github.com/rs/zerolog"
)

const (
	testSecret = "test-secret"
	hostID     = int64(10)
	guestID    = int64(77)
)

var (
	testNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	host    = models.Actor{UserID: hostID, Role: models.RoleHost}
	guest   = models.Actor{UserID: guestID, Role: models.RoleGuest}
)

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth:    config.APIAuthConfig{Enabled: true, JWTSecret: testSecret, Issuer: "beds4crew"},
	}
}

func hostel() *models.Property {
	return &models.Property{
		ID:       1,
		HostID:   hostID,
		Title:    "Harbour Hostel",
		IsActive: true,
		Rooms: []models.Room{
			{Index: 0, Label: "Dorm", Beds: []models.Bed{
				{Index: 0, Label: "B1", PricePerNight: 50},
				{Index: 1, Label: "B2", PricePerNight: 40},
			}},
			{Index: 1, Label: "Private", IsPrivate: true, Beds: []models.Bed{
				{Index: 0, Label: "Double", PricePerNight: 100},
			}},
		},
	}
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.CreateProperty(context.Background(), hostel()); err != nil {
		t.Fatalf("create property: %v", err)
	}
	return db
}

func newTestHTTPServer(t *testing.T, cfg config.APIConfig) (*HTTPServer, *httptest.Server) {
	t.Helper()
	logger := zerolog.Nop()
	svc := service.NewBookingService(newTestDB(t), nil, nil, nil, service.Options{
		IndexBuildTimeout: 2 * time.Second,
		CacheTTL:          time.Hour,
		Now:               func() time.Time { return testNow },
	}, &logger)

	srv := NewHTTPServer(cfg, svc, &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func tokenFor(t *testing.T, srv *HTTPServer, actor models.Actor) string {
	t.Helper()
	token, err := srv.auth.Issue(actor, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func bedScope(room, bed int) map[string]any {
	return map[string]any{"blockType": "bed", "roomIndex": room, "bedIndex": bed}
}
