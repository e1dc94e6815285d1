package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/amayahq/amaya/internal/bus"
	"github.com/amayahq/amaya/internal/reminder"
)

// ScheduleReminderInput is the input for the schedule_reminder tool.
type ScheduleReminderInput struct {
	// DelaySeconds schedules relative to now. Ignored when TargetTime is set.
	DelaySeconds int `json:"delay_seconds,omitempty"`
	// TargetTime is an absolute local time, e.g. "2026-09-01 08:30" or RFC 3339.
	TargetTime string `json:"target_time,omitempty"`
	// Prompt is what the assistant should remind the user about.
	Prompt string `json:"prompt"`
}

// ScheduleReminderOutput is the output for the schedule_reminder tool.
type ScheduleReminderOutput struct {
	ReminderID string `json:"reminder_id"`
	FireAt     string `json:"fire_at"`
}

// ClearReminderInput is the input for the clear_reminder tool.
type ClearReminderInput struct {
	ReminderID string `json:"reminder_id"`
}

// ClearReminderOutput is the output for the clear_reminder tool.
type ClearReminderOutput struct {
	Cleared bool `json:"cleared"`
}

// ListRemindersOutput is the output for the list_reminders tool.
type ListRemindersOutput struct {
	Reminders []ReminderInfo `json:"reminders"`
}

// ReminderInfo is one pending reminder as shown to the model.
type ReminderInfo struct {
	ReminderID string `json:"reminder_id"`
	FireAt     string `json:"fire_at"`
	Prompt     string `json:"prompt"`
}

// targetTimeLayouts are the accepted absolute-time formats, tried in order.
var targetTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func parseTargetTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range targetTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q (use RFC 3339 or \"2006-01-02 15:04\")", s)
}

func registerReminderTools(g *genkit.Genkit, r *Registry) []ai.ToolRef {
	scheduleTool := genkit.DefineTool(g, "schedule_reminder",
		"Schedule a reminder for the user. Set delay_seconds for a relative time or target_time for an absolute local time; target_time wins when both are given. The prompt describes what to remind about.",
		func(ctx *ai.ToolContext, input ScheduleReminderInput) (ScheduleReminderOutput, error) {
			ownerID := ownerFrom(ctx)

			prompt := strings.TrimSpace(input.Prompt)
			if prompt == "" {
				r.Tel.AddToolCallError(ctx)
				return ScheduleReminderOutput{}, fmt.Errorf("prompt must be non-empty")
			}

			var fireAt time.Time
			switch {
			case strings.TrimSpace(input.TargetTime) != "":
				t, err := parseTargetTime(input.TargetTime)
				if err != nil {
					r.Tel.AddToolCallError(ctx)
					return ScheduleReminderOutput{}, err
				}
				fireAt = t
			case input.DelaySeconds > 0:
				fireAt = time.Now().Add(time.Duration(input.DelaySeconds) * time.Second)
			default:
				r.Tel.AddToolCallError(ctx)
				return ScheduleReminderOutput{}, fmt.Errorf("set delay_seconds or target_time")
			}

			id := reminder.NewReminderID(fireAt.Unix())
			ev := bus.ReminderEvent{
				Kind:    bus.KindReminder,
				ID:      id,
				OwnerID: ownerID,
				FireAt:  float64(fireAt.Unix()),
				Prompt:  prompt,
			}
			if !r.Bus.Append(ctx, ev, ownerID) {
				r.Tel.AddToolCallError(ctx)
				return ScheduleReminderOutput{}, fmt.Errorf("could not record the reminder, try again")
			}

			r.Logger.Info("tool scheduled reminder",
				"reminder_id", id,
				"owner_id", ownerID,
				"fire_at", fireAt,
			)
			return ScheduleReminderOutput{
				ReminderID: id,
				FireAt:     fireAt.Format("2006-01-02 15:04:05"),
			}, nil
		},
	)

	clearTool := genkit.DefineTool(g, "clear_reminder",
		"Cancel a pending reminder by its reminder_id. Use list_reminders first if the id is unknown.",
		func(ctx *ai.ToolContext, input ClearReminderInput) (ClearReminderOutput, error) {
			ownerID := ownerFrom(ctx)

			id := strings.TrimSpace(input.ReminderID)
			if id == "" {
				r.Tel.AddToolCallError(ctx)
				return ClearReminderOutput{}, fmt.Errorf("reminder_id must be non-empty")
			}

			ev := bus.ReminderEvent{
				Kind:       bus.KindClearReminder,
				ReminderID: id,
				OwnerID:    ownerID,
			}
			if !r.Bus.Append(ctx, ev, ownerID) {
				r.Tel.AddToolCallError(ctx)
				return ClearReminderOutput{}, fmt.Errorf("could not record the cancellation, try again")
			}

			r.Logger.Info("tool cleared reminder", "reminder_id", id, "owner_id", ownerID)
			return ClearReminderOutput{Cleared: true}, nil
		},
	)

	listTool := genkit.DefineTool(g, "list_reminders",
		"List the user's pending reminders with their ids, fire times, and prompts.",
		func(ctx *ai.ToolContext, _ struct{}) (ListRemindersOutput, error) {
			ownerID := ownerFrom(ctx)

			rows, err := r.Store.ListRemindersForOwner(ctx, ownerID)
			if err != nil {
				r.Tel.AddToolCallError(ctx)
				return ListRemindersOutput{}, fmt.Errorf("list reminders: %w", err)
			}

			out := ListRemindersOutput{Reminders: []ReminderInfo{}}
			for _, row := range rows {
				out.Reminders = append(out.Reminders, ReminderInfo{
					ReminderID: row.ID,
					FireAt:     time.Unix(row.FireAt, 0).Format("2006-01-02 15:04:05"),
					Prompt:     row.Prompt,
				})
			}
			return out, nil
		},
	)

	return []ai.ToolRef{scheduleTool, clearTool, listTool}
}
