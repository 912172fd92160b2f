package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/kardianos/service"

	"github.com/gajzzs/blocksites/internal/log"
)

// controller is the part of service.Service used for registration.
type controller interface {
	Install() error
	Uninstall() error
	Start() error
	Stop() error
	Status() (service.Status, error)
}

// Service registers the job as a system service (systemd, upstart, ...)
// through kardianos/service. The service runs the enforcer's ticker loop.
type Service struct {
	job Job
	svc controller
	// managed reports whether this process was started by the service
	// manager; nil means an interactive caller.
	managed func() bool
}

// ServiceConfig maps a job onto a kardianos service definition.
func ServiceConfig(job Job) *service.Config {
	return &service.Config{
		Name:        job.Label,
		DisplayName: job.DisplayName,
		Description: job.Description,
		Executable:  job.Program,
		Arguments:   job.Arguments,
		Option: service.KeyValue{
			"Restart":   "always",
			"RunAtLoad": true,
		},
	}
}

// NewService builds a control-only handle; prg is the program the service
// runs when started in-process and may be nil for registration.
func NewService(job Job, prg service.Interface) (*Service, error) {
	if prg == nil {
		prg = noopProgram{}
	}
	svc, err := service.New(prg, ServiceConfig(job))
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return &Service{job: job, svc: svc, managed: func() bool { return !service.Interactive() }}, nil
}

func (s *Service) Register(context.Context) error {
	if _, err := s.svc.Status(); errors.Is(err, service.ErrNotInstalled) {
		if err := s.svc.Install(); err != nil {
			return fmt.Errorf("failed to install service: %w", err)
		}
	}
	if err := s.svc.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	return nil
}

func (s *Service) Unregister(context.Context) error {
	if _, err := s.svc.Status(); errors.Is(err, service.ErrNotInstalled) {
		return nil
	}
	if err := s.svc.Uninstall(); err != nil {
		return fmt.Errorf("failed to uninstall service: %w", err)
	}
	// Inside the service the stop request would wait on this very process;
	// the daemon stops the unit itself once the block is gone.
	if s.managed != nil && s.managed() {
		log.Debug(map[string]any{"service": s.job.Label}, "skipping stop from within the service")
		return nil
	}
	// Stop last so a failed uninstall leaves the job running.
	if err := s.svc.Stop(); err != nil {
		log.Debug(map[string]any{"service": s.job.Label, "error": err}, "stop after uninstall")
	}
	return nil
}

func (s *Service) Registered(context.Context) (bool, error) {
	_, err := s.svc.Status()
	if errors.Is(err, service.ErrNotInstalled) {
		return false, nil
	}
	return err == nil, err
}

type noopProgram struct{}

func (noopProgram) Start(service.Service) error { return nil }
func (noopProgram) Stop(service.Service) error  { return nil }
