package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Service.Name != "be-asset-requests" {
		t.Fatalf("service name = %q", cfg.Service.Name)
	}
	if cfg.Scheduler.ReminderThresholdDay != 2 {
		t.Fatalf("reminder threshold = %d, want 2", cfg.Scheduler.ReminderThresholdDay)
	}
	if cfg.Scheduler.ReminderCronSpec == "" {
		t.Fatal("reminder cron spec empty")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("REMINDER_THRESHOLD_DAYS", "5")
	t.Setenv("NATS_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Scheduler.ReminderThresholdDay != 5 {
		t.Fatalf("reminder threshold = %d, want 5", cfg.Scheduler.ReminderThresholdDay)
	}
	if !cfg.NATS.Enabled {
		t.Fatal("NATS not enabled")
	}
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	t.Setenv("REMINDER_THRESHOLD_DAYS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for threshold below 1")
	}
}
