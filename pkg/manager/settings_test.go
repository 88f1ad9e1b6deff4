package manager

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adcm.yaml")
	doc := `
database:
  path: /tmp/adcm-test.db
bundle_dir: /tmp/bundles
rotation_interval: 30m
retention:
  jobs_in_db: 7
passwords:
  min_password_length: 8
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ADCM_RUN_DIR", "/tmp/run")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.Database.Path != "/tmp/adcm-test.db" || s.BundleDir != "/tmp/bundles" {
		t.Errorf("file values not applied: %+v", s)
	}
	if s.RunDir != "/tmp/run" {
		t.Errorf("environment must override, run_dir = %q", s.RunDir)
	}
	if s.RotationInterval != 30*time.Minute || s.Retention.JobsInDB != 7 {
		t.Errorf("unexpected rotation settings %v / %+v", s.RotationInterval, s.Retention)
	}
	if s.Retention.AuditDays != DefaultSettings().Retention.AuditDays {
		t.Errorf("unset keys must keep defaults, audit days = %d", s.Retention.AuditDays)
	}
	if s.Passwords.MinLength != 8 {
		t.Errorf("min password length = %d", s.Passwords.MinLength)
	}
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults", func(*Settings) {}, false},
		{"no database", func(s *Settings) { s.Database.Path = " " }, true},
		{"no bundle dir", func(s *Settings) { s.BundleDir = "" }, true},
		{"no run dir", func(s *Settings) { s.RunDir = "" }, true},
		{"inverted password bounds", func(s *Settings) { s.Passwords.MinLength, s.Passwords.MaxLength = 10, 5 }, true},
		{"negative interval", func(s *Settings) { s.CollectInterval = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			if err := s.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
