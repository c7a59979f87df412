package capabilities

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// JobTrigger runs a registered job immediately
type JobTrigger interface {
	Trigger(ctx context.Context, module, job string) error
}

// JobAutomation exposes the job subsystem as the automation capability. A
// task names a registered job as "module/job".
type JobAutomation struct {
	jobs JobTrigger
}

// NewJobAutomation creates an automation backed by jobs
func NewJobAutomation(jobs JobTrigger) *JobAutomation {
	return &JobAutomation{jobs: jobs}
}

// Run implements sdk.Automation. The input is not forwarded; jobs receive
// their declared config.
func (a *JobAutomation) Run(ctx context.Context, task string, input map[string]interface{}) (map[string]interface{}, error) {
	module, job, ok := strings.Cut(task, "/")
	if !ok || module == "" || job == "" {
		return nil, fmt.Errorf("automation task %q must be module/job", task)
	}
	started := time.Now()
	if err := a.jobs.Trigger(ctx, module, job); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"module":      module,
		"job":         job,
		"duration_ms": time.Since(started).Milliseconds(),
	}, nil
}
