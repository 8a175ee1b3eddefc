package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(ctx context.Context) error {
	return p.err
}

func TestNewService(t *testing.T) {
	meta := Metadata{
		Service:     "test-service",
		Version:     "1.0.0",
		Environment: "test",
	}

	service := NewService(meta, nil)

	if service == nil {
		t.Fatal("expected service to be created, got nil")
	}

	if service.meta != meta {
		t.Error("expected service to have the provided metadata")
	}

	if service.startedAt.IsZero() {
		t.Error("expected startedAt to be set")
	}
}

func TestService_Status(t *testing.T) {
	meta := Metadata{
		Service:     "test-service",
		Version:     "1.0.0",
		Environment: "test",
	}

	service := NewService(meta, &fakePinger{})
	startTime := service.startedAt

	// Wait a bit to ensure uptime is calculated
	time.Sleep(10 * time.Millisecond)

	status := service.Status(context.Background())

	if status.Service != meta.Service {
		t.Errorf("expected service %q, got %q", meta.Service, status.Service)
	}

	if status.Version != meta.Version {
		t.Errorf("expected version %q, got %q", meta.Version, status.Version)
	}

	if status.Environment != meta.Environment {
		t.Errorf("expected environment %q, got %q", meta.Environment, status.Environment)
	}

	if status.Status != "UP" {
		t.Errorf("expected status 'UP', got %q", status.Status)
	}

	if status.Database != "up" {
		t.Errorf("expected database 'up', got %q", status.Database)
	}

	if !status.StartedAt.Equal(startTime) {
		t.Errorf("expected startedAt to match service start time")
	}

	if status.UptimeSecs < 0 {
		t.Errorf("expected uptimeSecs to be non-negative, got %d", status.UptimeSecs)
	}

	if status.Uptime == "" {
		t.Error("expected uptime to be set")
	}
}

func TestService_StatusDatabaseDown(t *testing.T) {
	service := NewService(Metadata{Service: "test-service"}, &fakePinger{err: errors.New("connection refused")})

	status := service.Status(context.Background())

	if status.Status != "DEGRADED" {
		t.Errorf("expected status 'DEGRADED', got %q", status.Status)
	}
	if status.Database != "down" {
		t.Errorf("expected database 'down', got %q", status.Database)
	}
}

func TestService_StatusWithoutDatabase(t *testing.T) {
	service := NewService(Metadata{Service: "test-service"}, nil)

	status := service.Status(context.Background())

	if status.Status != "UP" {
		t.Errorf("expected status 'UP', got %q", status.Status)
	}
	if status.Database != "disabled" {
		t.Errorf("expected database 'disabled', got %q", status.Database)
	}
}
