package scheduler

import (
	"testing"
	"time"
)

func TestAddJobInvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestAddJobValidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("*/5 * * * *", func() {}); err != nil {
		t.Errorf("expected valid five-field expression accepted, got %v", err)
	}
	if err := s.AddJob("@every 30s", func() {}); err != nil {
		t.Errorf("expected descriptor expression accepted, got %v", err)
	}
}

func TestAddIntervalRunsTask(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	ran := make(chan struct{}, 1)
	s.AddInterval(time.Second, func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	})

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("expected interval task to run")
	}
}
