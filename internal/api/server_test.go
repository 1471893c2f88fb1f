package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/effects"
	"github.com/quantumlife/responsibility/internal/escalation"
	"github.com/quantumlife/responsibility/internal/notifications"
	"github.com/quantumlife/responsibility/internal/planner"
	"github.com/quantumlife/responsibility/internal/repository"
	"github.com/quantumlife/responsibility/internal/scheduler"
	"github.com/quantumlife/responsibility/internal/slots"
	"github.com/quantumlife/responsibility/internal/storage"
	"github.com/quantumlife/responsibility/internal/testutil"
	"github.com/quantumlife/responsibility/internal/tracker"
)

type testEnv struct {
	srv   *Server
	clock *testutil.Clock
	notif *notifications.Service
}

// testServer wires a full stack on an in-memory database
func testServer(t *testing.T) *testEnv {
	t.Helper()

	clock := testutil.NewClock(testutil.Monday)
	db := testutil.TestDB(t)
	notif := notifications.NewService(db, clock.Now)

	repo := repository.New(clock.Now)
	runner := effects.NewRunner(storage.NewResponsibilityStore(db), escalation.New(notif, clock.Now))
	finder := slots.NewFinder(&testutil.FakeOracle{}, repo, clock.Now, slots.WithLocation(time.UTC))
	svc := tracker.New(repo, runner, finder, tracker.Options{Clock: clock.Now})

	sched, err := scheduler.NewScheduler(scheduler.Config{Timezone: "UTC", Clock: clock.Now})
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, sched.Register(scheduler.IntervalJob("reconcile", "Reconcile", time.Minute, func(ctx context.Context) error {
		svc.Reconcile(ctx)
		return nil
	})))

	srv := New(Config{
		Tracker:       svc,
		Notifications: notif,
		Scheduler:     sched,
		Clock:         clock.Now,
		Location:      time.UTC,
	})
	t.Cleanup(srv.wsHub.Stop)

	return &testEnv{srv: srv, clock: clock, notif: notif}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func (e *testEnv) create(t *testing.T, body string) *core.Responsibility {
	t.Helper()
	rr := e.do(t, "POST", "/api/v1/responsibilities", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", rr.Code, rr.Body.String())
	}
	return decodeBody[*core.Responsibility](t, rr)
}

func TestAPI_Health(t *testing.T) {
	env := testServer(t)

	rr := env.do(t, "GET", "/api/v1/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	resp := decodeBody[map[string]interface{}](t, rr)
	if resp["status"] != "ok" || resp["notifications_enabled"] != true {
		t.Errorf("health = %v", resp)
	}
}

func TestAPI_CreateAndGet(t *testing.T) {
	env := testServer(t)

	rec := env.create(t, `{"title": "Pay rent", "due": "2026-10-12 18:00", "reminder_style": "critical", "checklist": ["log in"]}`)
	if rec.ID == "" || rec.Status != core.StatusActive || len(rec.Checklist) != 1 {
		t.Errorf("created = %+v", rec)
	}

	rr := env.do(t, "GET", "/api/v1/responsibilities/"+rec.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := decodeBody[*core.Responsibility](t, rr); got.Title != "Pay rent" {
		t.Errorf("got %+v", got)
	}

	rr = env.do(t, "GET", "/api/v1/notifications?status=pending&responsibility_id="+rec.ID, "")
	resp := decodeBody[struct {
		Count int `json:"count"`
	}](t, rr)
	if resp.Count != 4 {
		t.Errorf("pending notifications = %d, want 4", resp.Count)
	}
}

func TestAPI_Create_Invalid(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `invalid`},
		{"missing title", `{"description": "nothing to do"}`},
		{"bad energy", `{"title": "x", "energy_required": "maximal"}`},
		{"bad due", `{"title": "x", "due": "whenever"}`},
		{"bad hint", `{"title": "x", "recurrence_hint": "fortnightly"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, "POST", "/api/v1/responsibilities", tt.body); rr.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAPI_Get_NotFound(t *testing.T) {
	env := testServer(t)

	if rr := env.do(t, "GET", "/api/v1/responsibilities/nope", ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestAPI_ListViews(t *testing.T) {
	env := testServer(t)
	env.create(t, `{"title": "Soon", "due": "+30m", "energy_required": "low"}`)
	env.create(t, `{"title": "Later", "due": "+72h"}`)

	tests := []struct {
		query string
		code  int
		count int
	}{
		{"", http.StatusOK, 2},
		{"?view=upcoming&within=24h", http.StatusOK, 1},
		{"?view=doable&energy=low", http.StatusOK, 1},
		{"?view=missed", http.StatusOK, 0},
		{"?view=upcoming&within=soon", http.StatusBadRequest, 0},
		{"?view=doable&energy=none", http.StatusBadRequest, 0},
		{"?view=everything", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr := env.do(t, "GET", "/api/v1/responsibilities"+tt.query, "")
			if rr.Code != tt.code {
				t.Fatalf("expected status %d, got %d", tt.code, rr.Code)
			}
			if tt.code == http.StatusOK {
				if got := decodeBody[[]*core.Responsibility](t, rr); len(got) != tt.count {
					t.Errorf("count = %d, want %d", len(got), tt.count)
				}
			}
		})
	}
}

func TestAPI_Lifecycle(t *testing.T) {
	env := testServer(t)
	rec := env.create(t, `{"title": "Laundry", "due": "+1h"}`)
	base := "/api/v1/responsibilities/" + rec.ID

	rr := env.do(t, "POST", base+"/snooze", `{"minutes": 30}`)
	if got := decodeBody[*core.Responsibility](t, rr); got.Status != core.StatusSnoozed {
		t.Fatalf("snooze: %d %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, "POST", base+"/snooze", `{}`); rr.Code != http.StatusBadRequest {
		t.Errorf("snooze without time: expected 400, got %d", rr.Code)
	}

	// The snooze lapses before the due time, so the next read sees it active.
	env.clock.Advance(31 * time.Minute)
	rr = env.do(t, "GET", base, "")
	if got := decodeBody[*core.Responsibility](t, rr); got.Status != core.StatusActive || got.SnoozedUntil != nil {
		t.Errorf("after snooze lapse = %+v", got)
	}

	// Past due: missed.
	env.clock.Advance(time.Hour)
	rr = env.do(t, "GET", base, "")
	if got := decodeBody[*core.Responsibility](t, rr); got.Status != core.StatusMissed {
		t.Errorf("after due = %s, want missed", got.Status)
	}

	rr = env.do(t, "POST", base+"/reschedule", `{"datetime": "+2h"}`)
	if got := decodeBody[*core.Responsibility](t, rr); got.Status != core.StatusActive {
		t.Errorf("rescheduled = %+v", got)
	}

	rr = env.do(t, "POST", base+"/complete", "")
	res := decodeBody[tracker.CompleteResult](t, rr)
	if rr.Code != http.StatusOK || res.Completed == nil || res.Completed.Status != core.StatusCompleted {
		t.Errorf("complete: %d %s", rr.Code, rr.Body.String())
	}
}

func TestAPI_UpdateArchiveDelete(t *testing.T) {
	env := testServer(t)
	rec := env.create(t, `{"title": "Draft"}`)
	base := "/api/v1/responsibilities/" + rec.ID

	rr := env.do(t, "PATCH", base, `{"title": "Final", "energy_required": "high"}`)
	got := decodeBody[*core.Responsibility](t, rr)
	if got.Title != "Final" || got.EnergyRequired != core.EnergyHigh {
		t.Errorf("updated = %+v", got)
	}
	if rr := env.do(t, "PATCH", base, `{"reminder_style": "shouty"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("bad style: expected 400, got %d", rr.Code)
	}

	rr = env.do(t, "POST", base+"/archive", "")
	if got := decodeBody[*core.Responsibility](t, rr); got.Status != core.StatusArchived {
		t.Errorf("archived = %+v", got)
	}

	if rr := env.do(t, "DELETE", base, ""); rr.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rr.Code)
	}
	if rr := env.do(t, "GET", base, ""); rr.Code != http.StatusNotFound {
		t.Errorf("after delete: expected 404, got %d", rr.Code)
	}
}

func TestAPI_Checklist(t *testing.T) {
	env := testServer(t)
	rec := env.create(t, `{"title": "Move house"}`)
	base := "/api/v1/responsibilities/" + rec.ID + "/checklist"

	rr := env.do(t, "POST", base, `{"label": "Book van"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add item: %d %s", rr.Code, rr.Body.String())
	}
	item := decodeBody[*core.Responsibility](t, rr).Checklist[0]

	rr = env.do(t, "POST", base+"/"+item.ID+"/toggle", "")
	if got := decodeBody[*core.Responsibility](t, rr); !got.Checklist[0].Done {
		t.Errorf("toggle = %+v", got.Checklist)
	}

	if rr := env.do(t, "POST", base+"/missing/toggle", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown item: expected 404, got %d", rr.Code)
	}

	rr = env.do(t, "DELETE", base+"/"+item.ID, "")
	if got := decodeBody[*core.Responsibility](t, rr); len(got.Checklist) != 0 {
		t.Errorf("remove = %+v", got.Checklist)
	}
}

func TestAPI_SlotsAndPlans(t *testing.T) {
	env := testServer(t)

	rr := env.do(t, "POST", "/api/v1/slots", `{"frequency": "weekly", "count": 2, "preferred_times": ["morning"]}`)
	slotsResp := decodeBody[struct {
		Slots   []core.ScheduledSlot `json:"slots"`
		Limited bool                 `json:"limited"`
	}](t, rr)
	if len(slotsResp.Slots) != 2 || slotsResp.Limited {
		t.Errorf("slots = %+v", slotsResp)
	}

	for _, body := range []string{
		`{"frequency": "hourly"}`,
		`{"frequency": "weekly", "avoid_days": ["someday"]}`,
		`{"frequency": "weekly", "preferred_times": ["midnight"]}`,
	} {
		if rr := env.do(t, "POST", "/api/v1/slots", body); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rr.Code)
		}
	}

	rr = env.do(t, "POST", "/api/v1/plans", `{"title": "Run", "frequency": "weekly", "count": 2, "energy_level": "high"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("plan: %d %s", rr.Code, rr.Body.String())
	}
	plan := decodeBody[planner.Plan](t, rr)
	if len(plan.Created) != 2 || plan.Created[0].EnergyRequired != core.EnergyHigh {
		t.Errorf("plan = %+v", plan)
	}
}

func TestAPI_Conflicts(t *testing.T) {
	env := testServer(t)
	env.create(t, `{"title": "Flight", "due": "+2h", "reminder_style": "critical"}`)
	env.clock.Advance(time.Minute)
	env.create(t, `{"title": "Groceries", "due": "+2h"}`)

	rr := env.do(t, "GET", "/api/v1/conflicts", "")
	if got := decodeBody[struct {
		Count int `json:"count"`
	}](t, rr); got.Count != 1 {
		t.Fatalf("conflicts = %s", rr.Body.String())
	}

	rr = env.do(t, "POST", "/api/v1/conflicts/resolve", "")
	if got := decodeBody[struct {
		Moved []json.RawMessage `json:"moved"`
	}](t, rr); len(got.Moved) != 1 {
		t.Errorf("resolve = %s", rr.Body.String())
	}

	rr = env.do(t, "GET", "/api/v1/conflicts", "")
	if got := decodeBody[struct {
		Count int `json:"count"`
	}](t, rr); got.Count != 0 {
		t.Errorf("after resolve = %s", rr.Body.String())
	}
}

func TestAPI_Reconcile(t *testing.T) {
	env := testServer(t)
	env.create(t, `{"title": "Call back", "due": "+30m"}`)
	env.clock.Advance(time.Hour)

	rr := env.do(t, "POST", "/api/v1/reconcile", "")
	report := decodeBody[tracker.ReconcileReport](t, rr)
	if len(report.Transitions) != 1 || report.Transitions[0].To != core.StatusMissed {
		t.Errorf("report = %+v", report)
	}
}

func TestAPI_Scheduler(t *testing.T) {
	env := testServer(t)

	rr := env.do(t, "GET", "/api/v1/scheduler", "")
	resp := decodeBody[struct {
		Jobs []scheduler.JobStatus `json:"jobs"`
	}](t, rr)
	if len(resp.Jobs) != 1 || resp.Jobs[0].ID != "reconcile" {
		t.Errorf("jobs = %+v", resp.Jobs)
	}

	rr = env.do(t, "POST", "/api/v1/scheduler/jobs/reconcile/run", "")
	if got := decodeBody[scheduler.JobStatus](t, rr); got.RunCount != 1 {
		t.Errorf("run = %+v", got)
	}

	if rr := env.do(t, "POST", "/api/v1/scheduler/jobs/nope/run", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown job: expected 404, got %d", rr.Code)
	}
}

func TestAPI_WebSocketEvents(t *testing.T) {
	env := testServer(t)
	go env.srv.wsHub.Run()

	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	testutil.AssertNoError(t, err)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.srv.wsHub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := env.create(t, `{"title": "Stretch", "due": "+10m"}`)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event Event
	testutil.AssertNoError(t, conn.ReadJSON(&event))
	if event.Type != "responsibility.created" {
		t.Errorf("event type = %q", event.Type)
	}

	// The main reminder falls due and is pushed through the hub.
	env.clock.Advance(10 * time.Minute)
	if rr := env.do(t, "POST", "/api/v1/notifications/dispatch", ""); rr.Code != http.StatusOK {
		t.Fatalf("dispatch: %d", rr.Code)
	}

	var msg notifications.WebSocketMessage
	testutil.AssertNoError(t, conn.ReadJSON(&msg))
	if msg.Type != "notification" || msg.Payload.ResponsibilityID != rec.ID {
		t.Errorf("message = %+v", msg)
	}
}
