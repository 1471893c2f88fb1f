package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/quantumlife/responsibility/internal/core"
)

// fakeCalendar serves the subset of the Calendar v3 API the client uses.
type fakeCalendar struct {
	mu      sync.Mutex
	busy    []*gcal.TimePeriod
	events  map[string]*gcal.Event
	nextID  int
	failAll bool
}

func newFakeCalendar(t *testing.T) (*fakeCalendar, *Client) {
	t.Helper()

	f := &fakeCalendar{events: make(map[string]*gcal.Event)}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), "",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return f, c
}

func (f *fakeCalendar) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /freeBusy", func(w http.ResponseWriter, r *http.Request) {
		var req gcal.FreeBusyRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, gcal.FreeBusyResponse{
			Calendars: map[string]gcal.FreeBusyCalendar{
				req.Items[0].Id: {Busy: f.busy},
			},
		})
	})

	mux.HandleFunc("POST /calendars/{cal}/events", func(w http.ResponseWriter, r *http.Request) {
		var ev gcal.Event
		json.NewDecoder(r.Body).Decode(&ev)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.nextID++
		ev.Id = fmt.Sprintf("evt-%d", f.nextID)
		f.events[ev.Id] = &ev
		writeJSON(w, ev)
	})

	mux.HandleFunc("GET /calendars/{cal}/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		ev, ok := f.events[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"error":{"code":404,"message":"Not Found"}}`, http.StatusNotFound)
			return
		}
		writeJSON(w, ev)
	})

	mux.HandleFunc("PUT /calendars/{cal}/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		var ev gcal.Event
		json.NewDecoder(r.Body).Decode(&ev)
		f.mu.Lock()
		defer f.mu.Unlock()
		ev.Id = r.PathValue("id")
		f.events[ev.Id] = &ev
		writeJSON(w, ev)
	})

	mux.HandleFunc("DELETE /calendars/{cal}/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.events, r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		fail := f.failAll
		f.mu.Unlock()
		if fail {
			http.Error(w, `{"error":{"code":500,"message":"backend error"}}`, http.StatusInternalServerError)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (f *fakeCalendar) setFailing(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = fail
}

func (f *fakeCalendar) event(id string) (*gcal.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	return ev, ok
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

var monday = time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)

// ============================================================================
// Client Tests
// ============================================================================

func TestClient_DefaultCalendarID(t *testing.T) {
	_, c := newFakeCalendar(t)
	if c.CalendarID() != DefaultCalendarID {
		t.Errorf("CalendarID() = %q, want %q", c.CalendarID(), DefaultCalendarID)
	}
}

func TestClient_FreeBusy(t *testing.T) {
	f, c := newFakeCalendar(t)
	f.busy = []*gcal.TimePeriod{
		{Start: "2026-10-13T14:00:00Z", End: "2026-10-13T15:00:00Z"},
		{Start: "2026-10-12T09:00:00Z", End: "2026-10-12T10:30:00Z"},
	}

	got, err := c.FreeBusy(context.Background(), monday, monday.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("FreeBusy() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("FreeBusy() = %d intervals, want 2", len(got))
	}
	want := core.Interval{Start: monday.Add(9 * time.Hour), End: monday.Add(10*time.Hour + 30*time.Minute)}
	if !got[0].Start.Equal(want.Start) || !got[0].End.Equal(want.End) {
		t.Errorf("first interval = %+v, want %+v (sorted by start)", got[0], want)
	}
}

func TestClient_FreeBusy_Error(t *testing.T) {
	f, c := newFakeCalendar(t)
	f.setFailing(true)

	if _, err := c.FreeBusy(context.Background(), monday, monday.Add(time.Hour)); err == nil {
		t.Error("expected error from failing API")
	}
}

func TestClient_EventLifecycle(t *testing.T) {
	f, c := newFakeCalendar(t)
	ctx := context.Background()
	start := monday.Add(8 * time.Hour)

	id, err := c.CreateEvent(ctx, EventRequest{Summary: "Gym", Start: start, End: start.Add(2 * time.Hour), TimeZone: "UTC"})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	ev, ok := f.event(id)
	if !ok || ev.Summary != "Gym" || ev.Start.DateTime != start.Format(time.RFC3339) {
		t.Fatalf("created event = %+v", ev)
	}

	moved := start.Add(24 * time.Hour)
	if err := c.UpdateEvent(ctx, id, EventRequest{Summary: "Gym (legs)", Start: moved, End: moved.Add(time.Hour)}); err != nil {
		t.Fatalf("UpdateEvent() error = %v", err)
	}
	ev, _ = f.event(id)
	if ev.Summary != "Gym (legs)" || ev.Start.DateTime != moved.Format(time.RFC3339) {
		t.Errorf("updated event = %+v", ev)
	}

	if err := c.DeleteEvent(ctx, id); err != nil {
		t.Fatalf("DeleteEvent() error = %v", err)
	}
	if _, ok := f.event(id); ok {
		t.Error("event should be deleted")
	}
}

func TestClient_UpdateMissingEvent(t *testing.T) {
	_, c := newFakeCalendar(t)
	err := c.UpdateEvent(context.Background(), "nope", EventRequest{Start: monday, End: monday.Add(time.Hour)})
	if err == nil {
		t.Error("expected error updating a missing event")
	}
}

// ============================================================================
// Oracle Tests
// ============================================================================

func TestNoopOracle(t *testing.T) {
	var o Oracle = NoopOracle{}
	if o.RequestPermission(context.Background()) {
		t.Error("NoopOracle should never grant permission")
	}
	got, err := o.BusyIntervals(context.Background(), monday, monday.Add(time.Hour))
	if err != nil || len(got) != 0 {
		t.Errorf("BusyIntervals() = %v, %v", got, err)
	}
}

func TestGoogleOracle_BusyIntervals(t *testing.T) {
	f, c := newFakeCalendar(t)
	f.busy = []*gcal.TimePeriod{{Start: "2026-10-12T09:00:00Z", End: "2026-10-12T10:00:00Z"}}
	o := NewOracleFromClient(c)

	if !o.RequestPermission(context.Background()) {
		t.Fatal("expected permission with a connected client")
	}
	got, err := o.BusyIntervals(context.Background(), monday, monday.AddDate(0, 0, 1))
	if err != nil || len(got) != 1 {
		t.Errorf("BusyIntervals() = %v, %v", got, err)
	}
}

func TestGoogleOracle_DegradesOnAPIFailure(t *testing.T) {
	f, c := newFakeCalendar(t)
	f.setFailing(true)
	o := NewOracleFromClient(c)

	got, err := o.BusyIntervals(context.Background(), monday, monday.AddDate(0, 0, 1))
	if err != nil {
		t.Errorf("BusyIntervals() error = %v, want nil", err)
	}
	if len(got) != 0 {
		t.Errorf("BusyIntervals() = %v, want empty", got)
	}
}

func TestGoogleOracle_Permission(t *testing.T) {
	dir := t.TempDir()
	oauth := NewOAuthClient(NewOAuthConfig("id", "secret"))

	tests := []struct {
		name  string
		token *oauth2.Token
		want  bool
	}{
		{"no token file", nil, false},
		{"expired without refresh token", &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(-time.Hour)}, false},
		{"refreshable", &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(-time.Hour)}, true},
		{"valid", &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(time.Hour)}, true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("token-%d.json", i))
			if tt.token != nil {
				if err := SaveToken(path, tt.token); err != nil {
					t.Fatal(err)
				}
			}
			o := NewGoogleOracle(oauth, path, "")
			if got := o.RequestPermission(context.Background()); got != tt.want {
				t.Errorf("RequestPermission() = %v, want %v", got, tt.want)
			}
			if tt.want {
				return
			}
			busy, err := o.BusyIntervals(context.Background(), monday, monday.Add(time.Hour))
			if err != nil || len(busy) != 0 {
				t.Errorf("denied permission should degrade to empty, got %v, %v", busy, err)
			}
		})
	}
}

// ============================================================================
// Mirror Tests
// ============================================================================

func TestMirror_UpsertAndRelease(t *testing.T) {
	f, c := newFakeCalendar(t)
	m := NewMirror(NewOracleFromClient(c))
	ctx := context.Background()

	r := &core.Responsibility{
		ID:             "r1",
		Title:          "Deep work",
		EnergyRequired: core.EnergyHigh,
		Schedule:       core.Schedule{Kind: core.KindOneTime, Datetime: monday.Add(8 * time.Hour), Timezone: "UTC"},
	}

	id, err := m.Upsert(ctx, r)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	ev, _ := f.event(id)
	if ev.End.DateTime != monday.Add(10*time.Hour).Format(time.RFC3339) {
		t.Errorf("event end = %s, want start + assumed duration", ev.End.DateTime)
	}

	r.CalendarEventID = id
	r.Title = "Deep work (moved)"
	again, err := m.Upsert(ctx, r)
	if err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	if again != id {
		t.Errorf("Upsert() with existing event = %s, want %s", again, id)
	}
	if ev, _ := f.event(id); ev.Summary != "Deep work (moved)" {
		t.Errorf("event summary = %q", ev.Summary)
	}

	if err := m.Release(ctx, id); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, ok := f.event(id); ok {
		t.Error("released event should be gone")
	}
}

func TestMirror_NotConnected(t *testing.T) {
	m := NewMirror(NewGoogleOracle(NewOAuthClient(NewOAuthConfig("id", "secret")), filepath.Join(t.TempDir(), "none.json"), ""))
	_, err := m.Upsert(context.Background(), &core.Responsibility{Title: "x"})
	if !errors.Is(err, core.ErrNotConfigured) {
		t.Errorf("Upsert() error = %v, want ErrNotConfigured", err)
	}
}

// ============================================================================
// OAuth Tests
// ============================================================================

func TestNewOAuthConfig(t *testing.T) {
	cfg := NewOAuthConfig("client", "secret")
	if !cfg.Configured() {
		t.Error("expected configured")
	}
	if cfg.RedirectURL != "http://localhost:8765/callback" {
		t.Errorf("RedirectURL = %q", cfg.RedirectURL)
	}
	if len(cfg.Scopes) != 2 {
		t.Errorf("Scopes = %v", cfg.Scopes)
	}
	if (OAuthConfig{ClientID: "only-id"}).Configured() {
		t.Error("missing secret should not be configured")
	}
}

func TestOAuthClient_AuthURL(t *testing.T) {
	c := NewOAuthClient(NewOAuthConfig("client-123", "secret"))
	url := c.AuthURL("state-xyz")

	for _, want := range []string{"client_id=client-123", "state=state-xyz", "access_type=offline"} {
		if !strings.Contains(url, want) {
			t.Errorf("AuthURL() = %q, missing %q", url, want)
		}
	}
}

func TestTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	token := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour).Truncate(time.Second)}

	if _, err := LoadToken(path); !errors.Is(err, core.ErrNotConfigured) {
		t.Errorf("LoadToken(missing) error = %v, want ErrNotConfigured", err)
	}

	if err := SaveToken(path, token); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("token file mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken() error = %v", err)
	}
	if got.AccessToken != token.AccessToken || got.RefreshToken != token.RefreshToken || !got.Expiry.Equal(token.Expiry) {
		t.Errorf("LoadToken() = %+v, want %+v", got, token)
	}
}

func TestLoadToken_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	os.WriteFile(path, []byte("{not json"), 0600)

	if _, err := LoadToken(path); err == nil || errors.Is(err, core.ErrNotConfigured) {
		t.Errorf("LoadToken(corrupt) error = %v", err)
	}
}

func TestLocalAuthServer_HandleCallback(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode string
		wantErr  bool
		status   int
	}{
		{"success", "?state=s1&code=abc", "abc", false, http.StatusOK},
		{"state mismatch", "?state=other&code=abc", "", true, http.StatusBadRequest},
		{"oauth error", "?state=s1&error=access_denied", "", true, http.StatusBadRequest},
		{"no code", "?state=s1", "", true, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewLocalAuthServer("s1")
			w := httptest.NewRecorder()
			s.handleCallback(w, httptest.NewRequest(http.MethodGet, "/callback"+tt.query, nil))

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			code, err := s.WaitForCode(ctx, time.Second)
			if (err != nil) != tt.wantErr {
				t.Errorf("WaitForCode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if code != tt.wantCode {
				t.Errorf("WaitForCode() = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestLocalAuthServer_WaitForCode_Timeout(t *testing.T) {
	s := NewLocalAuthServer("s1")
	if _, err := s.WaitForCode(context.Background(), 10*time.Millisecond); err == nil {
		t.Error("expected timeout error")
	}
}

func TestLocalAuthServer_StopNilServer(t *testing.T) {
	if err := NewLocalAuthServer("s1").Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
