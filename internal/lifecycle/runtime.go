package lifecycle

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type namedComponent struct {
	name      string
	component Component
}

// Runtime starts components in registration order and stops them in reverse.
type Runtime struct {
	components []namedComponent
	started    []namedComponent
	logger     *log.Entry
}

func NewRuntime() *Runtime {
	return &Runtime{logger: log.WithField("object", "Runtime")}
}

func (r *Runtime) Register(name string, component Component) {
	if component == nil {
		return
	}
	r.components = append(r.components, namedComponent{name: name, component: component})
}

func (r *Runtime) Components() []string {
	names := make([]string, 0, len(r.components))
	for _, c := range r.components {
		names = append(names, c.name)
	}
	return names
}

func (r *Runtime) Start(ctx context.Context) error {
	r.started = r.started[:0]
	for _, c := range r.components {
		if err := c.component.Start(ctx); err != nil {
			_ = r.stop(ctx)
			return fmt.Errorf("start %s: %w", c.name, err)
		}
		r.logger.WithField("component", c.name).Debug("started")
		r.started = append(r.started, c)
	}
	return nil
}

// Stop stops every started component even if some of them fail.
func (r *Runtime) Stop(ctx context.Context) error {
	return r.stop(ctx)
}

func (r *Runtime) stop(ctx context.Context) error {
	var stopErr error
	for i := len(r.started) - 1; i >= 0; i-- {
		c := r.started[i]
		if err := c.component.Stop(ctx); err != nil {
			r.logger.WithField("component", c.name).WithField("error", err.Error()).Warn("stop failed")
			stopErr = errors.Join(stopErr, fmt.Errorf("stop %s: %w", c.name, err))
			continue
		}
		r.logger.WithField("component", c.name).Debug("stopped")
	}
	r.started = r.started[:0]
	return stopErr
}

// Func adapts a pair of functions to a Component.
type Func struct {
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

func (f Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}
