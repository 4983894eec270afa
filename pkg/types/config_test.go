package types

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "empty backend returns ErrBackendEmpty",
			config:  Config{Backend: "", DataDir: "/tmp/data"},
			wantErr: ErrBackendEmpty,
		},
		{
			name:    "unknown backend returns ErrBackendUnknown",
			config:  Config{Backend: "postgres", DataDir: "/tmp/data"},
			wantErr: ErrBackendUnknown,
		},
		{
			name:    "negative busy timeout",
			config:  Config{Backend: BackendSQLite, BusyTimeout: -time.Second},
			wantErr: ErrNegativeBusyTimeout,
		},
		{
			name:   "valid sqlite config",
			config: Config{Backend: BackendSQLite, DataDir: "/tmp/data", BusyTimeout: time.Second},
		},
		{
			name:   "sqlite with empty DataDir is valid at config level",
			config: Config{Backend: BackendSQLite},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigEffectiveBusyTimeout(t *testing.T) {
	if got := (Config{}).EffectiveBusyTimeout(); got != DefaultBusyTimeout {
		t.Errorf("zero timeout: got %v, want %v", got, DefaultBusyTimeout)
	}
	if got := (Config{BusyTimeout: 2 * time.Second}).EffectiveBusyTimeout(); got != 2*time.Second {
		t.Errorf("explicit timeout: got %v", got)
	}
}
