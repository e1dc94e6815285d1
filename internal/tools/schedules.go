package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/amayahq/amaya/internal/cron"
	"github.com/amayahq/amaya/internal/persistence"
)

// CreateScheduleInput is the input for the create_day_schedule tool.
type CreateScheduleInput struct {
	Name string `json:"name"`
	// CronExpr is a standard 5-field cron expression, e.g. "30 8 * * 1-5".
	CronExpr string `json:"cron_expr"`
	// Prompt is what the assistant should do each time the schedule fires.
	Prompt string `json:"prompt"`
}

// CreateScheduleOutput is the output for the create_day_schedule tool.
type CreateScheduleOutput struct {
	ScheduleID string `json:"schedule_id"`
	NextRunAt  string `json:"next_run_at"`
}

// DeleteScheduleInput is the input for the delete_day_schedule tool.
type DeleteScheduleInput struct {
	ScheduleID string `json:"schedule_id"`
}

// DeleteScheduleOutput is the output for the delete_day_schedule tool.
type DeleteScheduleOutput struct {
	Deleted bool `json:"deleted"`
}

// ListSchedulesOutput is the output for the list_day_schedules tool.
type ListSchedulesOutput struct {
	Schedules []ScheduleInfo `json:"schedules"`
}

// ScheduleInfo is one day schedule as shown to the model.
type ScheduleInfo struct {
	ScheduleID string `json:"schedule_id"`
	Name       string `json:"name"`
	CronExpr   string `json:"cron_expr"`
	Prompt     string `json:"prompt"`
	Enabled    bool   `json:"enabled"`
	NextRunAt  string `json:"next_run_at,omitempty"`
}

func registerScheduleTools(g *genkit.Genkit, r *Registry) []ai.ToolRef {
	createTool := genkit.DefineTool(g, "create_day_schedule",
		"Create a recurring schedule from a 5-field cron expression (minute hour day-of-month month day-of-week). Each time it fires, the assistant acts on the prompt and messages the user.",
		func(ctx *ai.ToolContext, input CreateScheduleInput) (CreateScheduleOutput, error) {
			ownerID := ownerFrom(ctx)

			name := strings.TrimSpace(input.Name)
			prompt := strings.TrimSpace(input.Prompt)
			if name == "" || prompt == "" {
				r.Tel.AddToolCallError(ctx)
				return CreateScheduleOutput{}, fmt.Errorf("name and prompt must be non-empty")
			}

			now := time.Now()
			nextRun, err := cron.NextRunTime(input.CronExpr, now)
			if err != nil {
				r.Tel.AddToolCallError(ctx)
				return CreateScheduleOutput{}, fmt.Errorf("invalid cron expression %q: %w", input.CronExpr, err)
			}

			id, err := r.Store.InsertSchedule(ctx, persistence.Schedule{
				OwnerID:   ownerID,
				Name:      name,
				CronExpr:  input.CronExpr,
				Prompt:    prompt,
				Enabled:   true,
				NextRunAt: &nextRun,
			})
			if err != nil {
				r.Tel.AddToolCallError(ctx)
				return CreateScheduleOutput{}, fmt.Errorf("create schedule: %w", err)
			}

			r.Logger.Info("tool created day schedule",
				"schedule_id", id,
				"owner_id", ownerID,
				"cron_expr", input.CronExpr,
				"next_run_at", nextRun,
			)
			return CreateScheduleOutput{
				ScheduleID: id,
				NextRunAt:  nextRun.Format("2006-01-02 15:04:05"),
			}, nil
		},
	)

	deleteTool := genkit.DefineTool(g, "delete_day_schedule",
		"Delete a recurring schedule by its schedule_id.",
		func(ctx *ai.ToolContext, input DeleteScheduleInput) (DeleteScheduleOutput, error) {
			ownerID := ownerFrom(ctx)

			id := strings.TrimSpace(input.ScheduleID)
			if id == "" {
				r.Tel.AddToolCallError(ctx)
				return DeleteScheduleOutput{}, fmt.Errorf("schedule_id must be non-empty")
			}
			if err := r.Store.DeleteSchedule(ctx, id, ownerID); err != nil {
				r.Tel.AddToolCallError(ctx)
				return DeleteScheduleOutput{}, err
			}

			r.Logger.Info("tool deleted day schedule", "schedule_id", id, "owner_id", ownerID)
			return DeleteScheduleOutput{Deleted: true}, nil
		},
	)

	listTool := genkit.DefineTool(g, "list_day_schedules",
		"List the user's recurring schedules with their ids, cron expressions, and prompts.",
		func(ctx *ai.ToolContext, _ struct{}) (ListSchedulesOutput, error) {
			ownerID := ownerFrom(ctx)

			rows, err := r.Store.ListSchedulesForOwner(ctx, ownerID)
			if err != nil {
				r.Tel.AddToolCallError(ctx)
				return ListSchedulesOutput{}, fmt.Errorf("list schedules: %w", err)
			}

			out := ListSchedulesOutput{Schedules: []ScheduleInfo{}}
			for _, row := range rows {
				info := ScheduleInfo{
					ScheduleID: row.ID,
					Name:       row.Name,
					CronExpr:   row.CronExpr,
					Prompt:     row.Prompt,
					Enabled:    row.Enabled,
				}
				if row.NextRunAt != nil {
					info.NextRunAt = row.NextRunAt.Format("2006-01-02 15:04:05")
				}
				out.Schedules = append(out.Schedules, info)
			}
			return out, nil
		},
	)

	return []ai.ToolRef{createTool, deleteTool, listTool}
}
