package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/modhost/pkg/lifecycle"
	"github.com/platinummonkey/modhost/pkg/registry"
)

const recordTimeout = 5 * time.Second

// Recorder turns lifecycle observations into audit events. Write failures
// are logged and never block the transition that produced them.
type Recorder struct {
	logger Logger
	log    logrus.FieldLogger
	now    func() time.Time
}

var _ lifecycle.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder writing to logger
func NewRecorder(logger Logger, log logrus.FieldLogger) *Recorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recorder{logger: logger, log: log, now: time.Now}
}

// ObserveTransition implements lifecycle.Observer
func (r *Recorder) ObserveTransition(module string, cmd lifecycle.Command, success bool, elapsed time.Duration) {
	r.record(&Event{
		Type:      EventTransition,
		Module:    module,
		Command:   string(cmd),
		Success:   success,
		ElapsedMS: elapsed.Milliseconds(),
	})
}

// SetModuleStatus implements lifecycle.Observer
func (r *Recorder) SetModuleStatus(module string, status registry.Status) {
	r.record(&Event{Type: EventStatus, Module: module, Status: string(status), Success: true})
}

// RemoveModule implements lifecycle.Observer
func (r *Recorder) RemoveModule(module string) {
	r.record(&Event{Type: EventRemoved, Module: module, Success: true})
}

// SetLoadedModules implements lifecycle.Observer; the loaded count is not audited
func (r *Recorder) SetLoadedModules(int) {}

func (r *Recorder) record(event *Event) {
	event.Timestamp = r.now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.logger.Log(ctx, event); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"module": event.Module,
			"event":  event.Type,
		}).Error("Failed to write audit event")
	}
}
