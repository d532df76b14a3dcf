package services

import (
	"strings"
	"time"
)

// TemplateInput carries the run context available to built-in tokens.
type TemplateInput struct {
	AgentName string
	LastRunAt *time.Time
	Location  *time.Location
	Variables map[string]string
}

// TemplateResolver expands prompt templates deterministically. Built-in
// tokens are substituted first so user variables can never break them; user
// variables follow; unmatched tokens stay verbatim.
type TemplateResolver struct {
	now func() time.Time
}

func NewTemplateResolver() *TemplateResolver {
	return &TemplateResolver{now: time.Now}
}

// NewTemplateResolverAt pins the clock; used by tests and replay.
func NewTemplateResolverAt(now func() time.Time) *TemplateResolver {
	return &TemplateResolver{now: now}
}

const dateLayout = "2006-01-02"

// Resolve expands the template against the current clock and run context.
func (r *TemplateResolver) Resolve(template string, in TemplateInput) string {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	now := r.now().In(loc)

	lastRun := "never"
	if in.LastRunAt != nil {
		lastRun = in.LastRunAt.In(loc).Format(time.RFC3339)
	}

	builtins := []string{
		"{{CURRENT_TIME}}", now.Format(time.RFC3339),
		"{{TODAY}}", now.Format(dateLayout),
		"{{YESTERDAY}}", now.AddDate(0, 0, -1).Format(dateLayout),
		"{{LAST_7_DAYS}}", dateRange(now, 7),
		"{{LAST_30_DAYS}}", dateRange(now, 30),
		"{{WEEKDAY}}", now.Weekday().String(),
		"{{MONTH}}", now.Month().String(),
		"{{AGENT_NAME}}", in.AgentName,
		"{{LAST_RUN}}", lastRun,
	}
	out := strings.NewReplacer(builtins...).Replace(template)

	for key, value := range in.Variables {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}

// dateRange renders "start to end" covering the last n days ending today.
func dateRange(now time.Time, days int) string {
	start := now.AddDate(0, 0, -(days - 1))
	return start.Format(dateLayout) + " to " + now.Format(dateLayout)
}
