package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/planner"
	"github.com/quantumlife/responsibility/internal/tracker"
)

const (
	serverName    = "responsibility"
	serverVersion = "1.0.0"
)

// Tracker is the subset of the tracker service the MCP tools drive.
type Tracker interface {
	Add(ctx context.Context, r *core.Responsibility) (*core.Responsibility, error)
	All(ctx context.Context) []*core.Responsibility
	Upcoming(ctx context.Context, within time.Duration) []*core.Responsibility
	Missed(ctx context.Context) []*core.Responsibility
	Snoozed(ctx context.Context) []*core.Responsibility
	DoableNow(ctx context.Context, energy core.EnergyLevel) []*core.Responsibility
	Complete(ctx context.Context, id string) (tracker.CompleteResult, error)
	Snooze(ctx context.Context, id string, until time.Time) (*core.Responsibility, error)
	Reschedule(ctx context.Context, id string, at time.Time) (*core.Responsibility, error)
	Archive(ctx context.Context, id string) (*core.Responsibility, error)
	Delete(ctx context.Context, id string) (*core.Responsibility, error)
	FindSlots(ctx context.Context, opts core.SchedulingOptions) []core.ScheduledSlot
	PlanRecurring(ctx context.Context, template *core.Responsibility, opts core.SchedulingOptions) (planner.Plan, error)
}

// Server is the MCP server exposing the tracker as tools.
type Server struct {
	mcpServer *server.MCPServer
	tracker   Tracker
	adapter   *Adapter
	clock     core.Clock
	loc       *time.Location
}

// NewServer creates an MCP server. loc interprets local times in tool
// arguments.
func NewServer(t Tracker, adapter *Adapter, clock core.Clock, loc *time.Location) *Server {
	if clock == nil {
		clock = core.SystemClock
	}
	if loc == nil {
		loc = time.Local
	}
	s := &Server{tracker: t, adapter: adapter, clock: clock, loc: loc}

	s.mcpServer = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server for serving.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Serve runs the server on stdin/stdout until the client disconnects.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

const timeHelp = "RFC3339, 'YYYY-MM-DD HH:MM' local, 'YYYY-MM-DD', or relative like '+2h'"

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("add_responsibility",
			mcp.WithDescription("Add a commitment. With a recurrence_hint, free slots are found and one recurring commitment is created per slot."),
			mcp.WithString("title", mcp.Required(), mcp.Description("What needs doing")),
			mcp.WithString("due", mcp.Description("Due time: "+timeHelp+" (default: in one hour)")),
			mcp.WithString("timezone", mcp.Description("IANA timezone of the due time")),
			mcp.WithString("description", mcp.Description("Optional description")),
			mcp.WithString("category", mcp.Description("Optional category")),
			mcp.WithString("energy", mcp.Description("Energy required: low, medium, high (default: medium)")),
			mcp.WithString("reminder_style", mcp.Description("gentle, persistent, critical (default: gentle)")),
			mcp.WithString("recurrence_hint", mcp.Description("e.g. 'daily', '3 days a week', 'monthly'")),
			mcp.WithString("checklist", mcp.Description("Comma-separated checklist steps")),
		),
		s.handleAdd,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_responsibilities",
			mcp.WithDescription("List commitments in one view"),
			mcp.WithString("view", mcp.Description("all, upcoming, missed, snoozed, doable (default: all)")),
			mcp.WithString("energy", mcp.Description("Available energy for the doable view (default: medium)")),
			mcp.WithNumber("within_hours", mcp.Description("Horizon of the upcoming view; 0 for no limit")),
		),
		s.handleList,
	)

	for _, t := range []struct{ name, desc string }{
		{"complete_responsibility", "Mark a commitment done. Recurring commitments spawn their next occurrence."},
		{"archive_responsibility", "Archive a commitment and drop its reminders"},
		{"delete_responsibility", "Delete a commitment permanently"},
	} {
		s.mcpServer.AddTool(
			mcp.NewTool(t.name,
				mcp.WithDescription(t.desc),
				mcp.WithString("id", mcp.Required(), mcp.Description("Responsibility ID")),
			),
			s.idHandler(t.name),
		)
	}

	s.mcpServer.AddTool(
		mcp.NewTool("snooze_responsibility",
			mcp.WithDescription("Defer a commitment until a later time"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Responsibility ID")),
			mcp.WithString("until", mcp.Description("Wake time: "+timeHelp)),
			mcp.WithNumber("minutes", mcp.Description("Snooze length in minutes, used when until is empty")),
		),
		s.handleSnooze,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("reschedule_responsibility",
			mcp.WithDescription("Move a commitment to a new time and reactivate it"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Responsibility ID")),
			mcp.WithString("datetime", mcp.Required(), mcp.Description("New due time: "+timeHelp)),
		),
		s.handleReschedule,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("find_slots",
			mcp.WithDescription("Rank free slots this week for a recurring commitment"),
			mcp.WithString("frequency", mcp.Required(), mcp.Description("daily, weekly, monthly")),
			mcp.WithNumber("count", mcp.Description("How many slots (default: 3 weekly, 7 daily)")),
			mcp.WithNumber("duration_minutes", mcp.Description("Slot length (default: 60)")),
			mcp.WithString("energy", mcp.Description("low, medium, high")),
			mcp.WithString("preferred_times", mcp.Description("Comma-separated: morning, afternoon, evening")),
			mcp.WithString("avoid_days", mcp.Description("Comma-separated day names")),
		),
		s.handleFindSlots,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("plan_recurring",
			mcp.WithDescription("Find slots and create one recurring commitment per slot"),
			mcp.WithString("title", mcp.Required(), mcp.Description("What needs doing")),
			mcp.WithString("frequency", mcp.Required(), mcp.Description("daily, weekly, monthly")),
			mcp.WithNumber("count", mcp.Description("How many slots")),
			mcp.WithNumber("duration_minutes", mcp.Description("Slot length (default: 60)")),
			mcp.WithString("energy", mcp.Description("low, medium, high")),
			mcp.WithString("reminder_style", mcp.Description("gentle, persistent, critical")),
			mcp.WithString("preferred_times", mcp.Description("Comma-separated: morning, afternoon, evening")),
			mcp.WithString("avoid_days", mcp.Description("Comma-separated day names")),
		),
		s.handlePlan,
	)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(output)), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *Server) handleAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cmd := Command{
		Title:          req.GetString("title", ""),
		Description:    req.GetString("description", ""),
		Category:       req.GetString("category", ""),
		EnergyRequired: req.GetString("energy", ""),
		ReminderStyle:  req.GetString("reminder_style", ""),
		RecurrenceHint: req.GetString("recurrence_hint", ""),
		Checklist:      splitList(req.GetString("checklist", "")),
	}

	tz := req.GetString("timezone", "")
	if due := req.GetString("due", ""); due != "" || tz != "" {
		loc := s.loc
		if tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid timezone %q", tz)), nil
			}
			loc = l
		}
		cmd.Schedule = &ScheduleInput{Timezone: tz}
		if due != "" {
			at, err := ParseTime(due, s.clock(), loc)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid due: %v", err)), nil
			}
			cmd.Schedule.Datetime = at
		}
	}

	intent, err := s.adapter.Build(cmd)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if intent.Recurring() {
		plan, err := s.tracker.PlanRecurring(ctx, intent.Responsibility, *intent.Options)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to plan: %v", err)), nil
		}
		return jsonResult(plan)
	}

	added, err := s.tracker.Add(ctx, intent.Responsibility)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add responsibility: %v", err)), nil
	}
	return jsonResult(added)
}

func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var items []*core.Responsibility
	switch view := req.GetString("view", "all"); view {
	case "", "all":
		items = s.tracker.All(ctx)
	case "upcoming":
		within := time.Duration(req.GetFloat("within_hours", 0) * float64(time.Hour))
		items = s.tracker.Upcoming(ctx, within)
	case "missed":
		items = s.tracker.Missed(ctx)
	case "snoozed":
		items = s.tracker.Snoozed(ctx)
	case "doable":
		energy, err := core.ParseEnergyLevel(req.GetString("energy", "medium"))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		items = s.tracker.DoableNow(ctx, energy)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown view %q", view)), nil
	}

	if len(items) == 0 {
		return mcp.NewToolResultText("No responsibilities found."), nil
	}
	return jsonResult(items)
}

func (s *Server) idHandler(tool string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetString("id", "")
		if id == "" {
			return mcp.NewToolResultError("id is required"), nil
		}

		var (
			out interface{}
			err error
		)
		switch tool {
		case "complete_responsibility":
			out, err = s.tracker.Complete(ctx, id)
		case "archive_responsibility":
			out, err = s.tracker.Archive(ctx, id)
		case "delete_responsibility":
			if _, err = s.tracker.Delete(ctx, id); err == nil {
				return mcp.NewToolResultText(fmt.Sprintf("Responsibility %s deleted.", id)), nil
			}
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(out)
	}
}

func (s *Server) handleSnooze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}

	var until time.Time
	if v := req.GetString("until", ""); v != "" {
		t, err := ParseTime(v, s.clock(), s.loc)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid until: %v", err)), nil
		}
		until = t
	} else {
		minutes := req.GetFloat("minutes", 0)
		if minutes <= 0 {
			return mcp.NewToolResultError("until or a positive minutes is required"), nil
		}
		until = s.clock().Add(time.Duration(minutes * float64(time.Minute)))
	}

	r, err := s.tracker.Snooze(ctx, id, until)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(r)
}

func (s *Server) handleReschedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	at, err := ParseTime(req.GetString("datetime", ""), s.clock(), s.loc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid datetime: %v", err)), nil
	}

	r, err := s.tracker.Reschedule(ctx, id, at)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(r)
}

// schedulingOptions reads the slot-search arguments shared by find_slots and
// plan_recurring.
func schedulingOptions(req mcp.CallToolRequest) (core.SchedulingOptions, error) {
	freq, err := core.ParseFrequency(req.GetString("frequency", ""))
	if err != nil {
		return core.SchedulingOptions{}, err
	}
	opts := core.SchedulingOptions{
		Frequency:       freq,
		Count:           req.GetInt("count", 0),
		DurationMinutes: req.GetInt("duration_minutes", 0),
		AvoidDays:       splitList(req.GetString("avoid_days", "")),
	}
	if v := req.GetString("energy", ""); v != "" {
		e, err := core.ParseEnergyLevel(v)
		if err != nil {
			return core.SchedulingOptions{}, err
		}
		opts.EnergyLevel = e
	}
	for _, name := range splitList(req.GetString("preferred_times", "")) {
		t, err := core.ParseTimeOfDay(name)
		if err != nil {
			return core.SchedulingOptions{}, err
		}
		opts.PreferredTimes = append(opts.PreferredTimes, t)
	}
	if opts.Count < 0 || opts.DurationMinutes < 0 {
		return core.SchedulingOptions{}, fmt.Errorf("%w: count and duration must not be negative", core.ErrInvalidInput)
	}
	return opts, nil
}

func (s *Server) handleFindSlots(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts, err := schedulingOptions(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	found := s.tracker.FindSlots(ctx, opts)
	if len(found) == 0 {
		return mcp.NewToolResultText("No free slots this week."), nil
	}
	return jsonResult(struct {
		Slots     []core.ScheduledSlot `json:"slots"`
		Requested int                  `json:"requested"`
		Limited   bool                 `json:"limited"`
	}{found, opts.EffectiveCount(), len(found) < opts.EffectiveCount()})
}

func (s *Server) handlePlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts, err := schedulingOptions(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	intent, err := s.adapter.Build(Command{
		Title:          req.GetString("title", ""),
		EnergyRequired: string(opts.EnergyLevel),
		ReminderStyle:  req.GetString("reminder_style", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if opts.EnergyLevel == "" {
		opts.EnergyLevel = intent.Responsibility.EnergyRequired
	}

	plan, err := s.tracker.PlanRecurring(ctx, intent.Responsibility, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to plan: %v", err)), nil
	}
	return jsonResult(plan)
}
