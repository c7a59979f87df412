package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// HandlerResolver turns a job handler path into an HTTP handler
type HandlerResolver interface {
	ResolveHandler(ctx context.Context, handlerPath string) (http.Handler, error)
}

// Invocation is the body POSTed to a job handler
type Invocation struct {
	Module    string                 `json:"module"`
	Job       string                 `json:"job"`
	Attempt   int                    `json:"attempt"`
	Config    map[string]interface{} `json:"config,omitempty"`
	StartedAt time.Time              `json:"started_at"`
}

// HandlerDispatcher runs jobs in-process by resolving their handler and
// POSTing an Invocation to it. A 4xx response is permanent; 5xx responses
// and resolve errors are retried up to Definition.Retries times.
type HandlerDispatcher struct {
	resolver HandlerResolver
	log      logrus.FieldLogger

	// InitialInterval is the first retry delay
	InitialInterval time.Duration
}

// NewHandlerDispatcher creates a dispatcher backed by resolver
func NewHandlerDispatcher(resolver HandlerResolver, log logrus.FieldLogger) *HandlerDispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HandlerDispatcher{resolver: resolver, log: log, InitialInterval: time.Second}
}

// Dispatch implements Dispatcher
func (d *HandlerDispatcher) Dispatch(ctx context.Context, def Definition) error {
	log := d.log.WithFields(logrus.Fields{"module": def.Module, "job": def.Name})

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.InitialInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := d.invoke(ctx, def, attempt)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("Job attempt failed")
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(def.Retries+1)))
	if err != nil {
		return fmt.Errorf("job %s failed after %d attempt(s): %w", def.Key(), attempt, err)
	}
	log.WithField("attempt", attempt).Info("Job completed")
	return nil
}

func (d *HandlerDispatcher) invoke(ctx context.Context, def Definition, attempt int) error {
	handler, err := d.resolver.ResolveHandler(ctx, def.HandlerPath)
	if err != nil {
		return err
	}

	body, err := json.Marshal(Invocation{
		Module:    def.Module,
		Job:       def.Name,
		Attempt:   attempt,
		Config:    def.ConfigSchema,
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		return backoff.Permanent(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	switch {
	case rec.Code >= 500:
		return fmt.Errorf("handler returned %d: %s", rec.Code, bytes.TrimSpace(rec.Body.Bytes()))
	case rec.Code >= 400:
		return backoff.Permanent(fmt.Errorf("handler rejected job with %d: %s", rec.Code, bytes.TrimSpace(rec.Body.Bytes())))
	}
	return nil
}
