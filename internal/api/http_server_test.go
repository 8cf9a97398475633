package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"beds4crew/internal/config"
	"beds4crew/internal/domain"
	"beds4crew/internal/export"
	"beds4crew/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type bookingBody struct {
	ID         int64  `json:"id"`
	Status     string `json:"status"`
	TotalPrice int64  `json:"total_price"`
	BookedBeds []struct {
		Label string `json:"label"`
	} `json:"booked_beds"`
}

func TestHealthz(t *testing.T) {
	_, ts := newTestHTTPServer(t, testAPIConfig())

	resp := doRequest(t, ts, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestBookingLifecycle(t *testing.T) {
	srv, ts := newTestHTTPServer(t, testAPIConfig())
	guestToken := tokenFor(t, srv, guest)
	hostToken := tokenFor(t, srv, host)

	resp := doRequest(t, ts, http.MethodPost, "/api/v1/bookings", guestToken, map[string]any{
		"property_id": 1,
		"scope":       bedScope(0, 0),
		"start":       "2025-07-10",
		"end":         "2025-07-12",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created bookingBody
	decodeJSON(t, resp, &created)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, int64(100), created.TotalPrice)
	require.Len(t, created.BookedBeds, 1)
	assert.Equal(t, "Dorm, B1", created.BookedBeds[0].Label)

	resp = doRequest(t, ts, http.MethodGet, "/api/v1/properties/1/availability?scope=bed&room=0&bed=0&start=2025-07-11&end=2025-07-13", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var avail struct {
		Available bool `json:"available"`
		Conflict  *struct {
			Source      string `json:"source"`
			SourceScope struct {
				BlockType string `json:"blockType"`
			} `json:"source_scope"`
		} `json:"conflict"`
	}
	decodeJSON(t, resp, &avail)
	assert.False(t, avail.Available)
	require.NotNil(t, avail.Conflict)
	assert.Equal(t, fmt.Sprintf("booking:%d", created.ID), avail.Conflict.Source)
	assert.Equal(t, "bed", avail.Conflict.SourceScope.BlockType)

	// a second guest is turned away with the conflicting interval
	other := tokenFor(t, srv, models.Actor{UserID: 78, Role: models.RoleGuest})
	resp = doRequest(t, ts, http.MethodPost, "/api/v1/bookings", other, map[string]any{
		"property_id": 1,
		"scope":       map[string]any{"blockType": "room", "roomIndex": 0},
		"start":       "2025-07-12",
		"end":         "2025-07-14",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	path := fmt.Sprintf("/api/v1/bookings/%d", created.ID)
	resp = doRequest(t, ts, http.MethodPost, path+"/confirm", guestToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "guest cannot confirm")

	resp = doRequest(t, ts, http.MethodPost, path+"/confirm", hostToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var confirmed bookingBody
	decodeJSON(t, resp, &confirmed)
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)

	resp = doRequest(t, ts, http.MethodPost, path+"/reject", hostToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "confirmed booking cannot be rejected")

	resp = doRequest(t, ts, http.MethodGet, path, other, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doRequest(t, ts, http.MethodGet, "/api/v1/bookings/host", hostToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Bookings []bookingBody `json:"bookings"`
	}
	decodeJSON(t, resp, &list)
	require.Len(t, list.Bookings, 1)
	assert.Equal(t, created.ID, list.Bookings[0].ID)

	resp = doRequest(t, ts, http.MethodPost, path+"/cancel", guestToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, ts, http.MethodGet, "/api/v1/bookings/guest", other, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, resp, &list)
	assert.Empty(t, list.Bookings)

	resp = doRequest(t, ts, http.MethodGet, "/api/v1/bookings/999", hostToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBadRequests(t *testing.T) {
	srv, ts := newTestHTTPServer(t, testAPIConfig())
	guestToken := tokenFor(t, srv, guest)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"MissingDates", http.MethodGet, "/api/v1/properties/1/availability?scope=entire", nil, http.StatusBadRequest},
		{"ReversedRange", http.MethodGet, "/api/v1/properties/1/availability?start=2025-07-12&end=2025-07-10", nil, http.StatusBadRequest},
		{"MalformedDate", http.MethodGet, "/api/v1/properties/1/calendar?start=12.07.2025&end=2025-07-14", nil, http.StatusBadRequest},
		{"BedScopeWithoutIndexes", http.MethodGet, "/api/v1/properties/1/availability?scope=bed&start=2025-07-10&end=2025-07-10", nil, http.StatusBadRequest},
		{"UnknownRoom", http.MethodGet, "/api/v1/properties/1/availability?scope=room&room=7&start=2025-07-10&end=2025-07-10", nil, http.StatusBadRequest},
		{"UnknownProperty", http.MethodGet, "/api/v1/properties/42/availability?start=2025-07-10&end=2025-07-10", nil, http.StatusNotFound},
		{"BadPropertyID", http.MethodGet, "/api/v1/properties/abc/calendar?start=2025-07-10&end=2025-07-10", nil, http.StatusBadRequest},
		{"UnknownField", http.MethodPost, "/api/v1/bookings", map[string]any{"property_id": 1, "nights": 2}, http.StatusBadRequest},
		{"MissingProperty", http.MethodPost, "/api/v1/bookings", map[string]any{"start": "2025-07-10", "end": "2025-07-11"}, http.StatusBadRequest},
		{"PastStart", http.MethodPost, "/api/v1/bookings", map[string]any{"property_id": 1, "start": "2025-05-01", "end": "2025-05-02"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, ts, tc.method, tc.path, guestToken, tc.body)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestAuthentication(t *testing.T) {
	srv, ts := newTestHTTPServer(t, testAPIConfig())

	t.Run("MissingToken", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodGet, "/api/v1/bookings/guest", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ForeignSecret", func(t *testing.T) {
		foreign := NewAuthenticator(config.APIAuthConfig{Enabled: true, JWTSecret: "other", Issuer: "beds4crew"})
		token, err := foreign.Issue(guest, time.Hour)
		require.NoError(t, err)
		resp := doRequest(t, ts, http.MethodGet, "/api/v1/bookings/guest", token, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("NotBearer", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/bookings/guest", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("AnonymousReads", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodGet, "/api/v1/properties/1/calendar?start=2025-07-01&end=2025-07-03", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("ValidToken", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodGet, "/api/v1/bookings/guest", tokenFor(t, srv, guest), nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestTrustedHeadersWhenAuthDisabled(t *testing.T) {
	cfg := testAPIConfig()
	cfg.Auth.Enabled = false
	_, ts := newTestHTTPServer(t, cfg)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/bookings/unread/count", nil)
	require.NoError(t, err)
	req.Header.Set(headerUserID, "10")
	req.Header.Set(headerUserRole, models.RoleHost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req.Header.Set(headerUserID, "not-a-number")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestBlocksAndCalendar(t *testing.T) {
	srv, ts := newTestHTTPServer(t, testAPIConfig())
	hostToken := tokenFor(t, srv, host)

	resp := doRequest(t, ts, http.MethodPost, "/api/v1/properties/1/blocks", tokenFor(t, srv, guest), map[string]any{
		"scope": map[string]any{"blockType": "entire"}, "start": "2025-07-01", "end": "2025-07-02",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doRequest(t, ts, http.MethodPost, "/api/v1/properties/1/blocks", hostToken, map[string]any{
		"scope":  map[string]any{"blockType": "entire"},
		"start":  "2025-07-01",
		"end":    "2025-07-02",
		"reason": "Deep clean",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var block struct {
		ID     int64  `json:"id"`
		Reason string `json:"reason"`
	}
	decodeJSON(t, resp, &block)
	assert.Equal(t, "Deep clean", block.Reason)

	resp = doRequest(t, ts, http.MethodGet, "/api/v1/properties/1/calendar?start=2025-07-01&end=2025-07-03", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cal struct {
		Days []models.CalendarDay `json:"days"`
	}
	decodeJSON(t, resp, &cal)
	require.Len(t, cal.Days, 3)
	assert.Equal(t, models.DayBlocked, cal.Days[0].State)
	assert.Equal(t, models.DayBlocked, cal.Days[1].State)
	assert.Equal(t, models.DayFree, cal.Days[2].State)
	assert.Equal(t, 3, cal.Days[2].FreeBeds)

	path := fmt.Sprintf("/api/v1/properties/1/blocks/%d", block.ID)
	resp = doRequest(t, ts, http.MethodDelete, path, hostToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = doRequest(t, ts, http.MethodDelete, path, hostToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMessagesAndUnread(t *testing.T) {
	srv, ts := newTestHTTPServer(t, testAPIConfig())
	guestToken := tokenFor(t, srv, guest)
	hostToken := tokenFor(t, srv, host)

	resp := doRequest(t, ts, http.MethodPost, "/api/v1/bookings", guestToken, map[string]any{
		"property_id": 1, "scope": bedScope(1, 0), "start": "2025-07-01", "end": "2025-07-02",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created bookingBody
	decodeJSON(t, resp, &created)
	path := fmt.Sprintf("/api/v1/bookings/%d", created.ID)

	resp = doRequest(t, ts, http.MethodPost, path+"/messages", guestToken, map[string]string{"text": "<i>Late</i> arrival"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var msg models.Message
	decodeJSON(t, resp, &msg)
	assert.Equal(t, "Late arrival", msg.Text)

	resp = doRequest(t, ts, http.MethodPost, path+"/messages", guestToken, map[string]string{"text": "<br>"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	unread := func() int {
		resp := doRequest(t, ts, http.MethodGet, "/api/v1/bookings/unread/count", hostToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Count int `json:"count"`
		}
		decodeJSON(t, resp, &body)
		return body.Count
	}
	assert.Equal(t, 1, unread())

	resp = doRequest(t, ts, http.MethodPost, path+"/read", hostToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, unread())
}

func TestExportOccupancy(t *testing.T) {
	srv, ts := newTestHTTPServer(t, testAPIConfig())
	hostToken := tokenFor(t, srv, host)

	resp := doRequest(t, ts, http.MethodPost, "/api/v1/bookings", tokenFor(t, srv, guest), map[string]any{
		"property_id": 1, "scope": bedScope(0, 1), "start": "2025-07-02", "end": "2025-07-03",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doRequest(t, ts, http.MethodGet, "/api/v1/properties/1/export?start=2025-07-01&end=2025-07-03", tokenFor(t, srv, guest), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doRequest(t, ts, http.MethodGet, "/api/v1/properties/1/export?start=2025-07-01&end=2025-07-03", hostToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, export.ContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "occupancy_1_2025-07-01_to_2025-07-03.xlsx")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(export.SheetName)
	require.NoError(t, err)
	// заголовок, даты и три кровати
	require.Len(t, rows, 5)
	assert.Equal(t, "Dorm, B2", rows[3][0])
	assert.Contains(t, rows[3], "booking:1")
}

func TestRateLimit(t *testing.T) {
	cfg := testAPIConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}
	_, ts := newTestHTTPServer(t, cfg)

	path := "/api/v1/properties/1/calendar?start=2025-07-01&end=2025-07-01"
	first := doRequest(t, ts, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusOK, first.StatusCode)
	second := doRequest(t, ts, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)

	// healthz is never limited
	health := doRequest(t, ts, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidRange, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", domain.ErrInvalidResource), http.StatusBadRequest},
		{domain.ErrInvalidMessage, http.StatusBadRequest},
		{models.ErrInvalidScope, http.StatusBadRequest},
		{domain.ErrNotAuthorized, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{&domain.ConflictError{Source: "block:1"}, http.StatusConflict},
		{fmt.Errorf("x: %w", domain.ErrInvalidTransition), http.StatusConflict},
		{fmt.Errorf("%w: property 1", domain.ErrTimeout), http.StatusGatewayTimeout},
		{errors.New("disk I/O error"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
