// Package service runs long-lived process components together.
package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Service interface {
	Run(ctx context.Context) error
}

// Func adapts a function to Service.
type Func func(ctx context.Context) error

func (f Func) Run(ctx context.Context) error {
	return f(ctx)
}

type namedService struct {
	name string
	Service
}

// Manager manages a collection of services. Services share a context
// canceled when any of them returns an error.
type Manager struct {
	mu       sync.Mutex // Protects access to the services slice
	services []namedService
	group    *errgroup.Group
}

func NewManager() *Manager {
	return &Manager{}
}

// Register adds a new service to the Manager. Must be called before Run.
func (sm *Manager) Register(name string, s Service) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.services = append(sm.services, namedService{name: name, Service: s})
}

// Run runs all registered services concurrently using an errgroup.
func (sm *Manager) Run(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	group, ctx := errgroup.WithContext(ctx)
	for _, s := range sm.services {
		group.Go(func() error {
			log.Debug().Str("service", s.name).Msg("service started")
			err := s.Run(ctx)
			if err != nil {
				log.Error().Err(err).Str("service", s.name).Msg("service stopped with error")
			}
			return err
		})
	}
	sm.group = group
}

// Wait blocks until all services stop and returns the first error.
func (sm *Manager) Wait() error {
	sm.mu.Lock()
	group := sm.group
	sm.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}
