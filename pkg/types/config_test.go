package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "defaults are valid",
			config:  DefaultConfig("/tmp/data"),
			wantErr: nil,
		},
		{
			name:    "zero config is valid",
			config:  Config{},
			wantErr: nil,
		},
		{
			name:    "negative retention returns ErrRetentionInvalid",
			config:  Config{RetentionDays: -1},
			wantErr: ErrRetentionInvalid,
		},
		{
			name:    "compression level above 4 returns ErrCompressionInvalid",
			config:  Config{CompressionLevel: 9},
			wantErr: ErrCompressionInvalid,
		},
		{
			name:    "unknown position policy returns ErrInvalidPolicy",
			config:  Config{Restore: RestoreOptions{Position: "sideways"}},
			wantErr: ErrInvalidPolicy,
		},
		{
			name:    "unknown name policy returns ErrInvalidPolicy",
			config:  Config{Restore: RestoreOptions{Name: "shout"}},
			wantErr: ErrInvalidPolicy,
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
			if err == nil {
				t.Fatalf("expected error %v, got nil", tt.wantErr)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRestoreOptionsWithDefaults(t *testing.T) {
	d := RestoreOptions{Position: PositionKeep, Name: NameRename}

	assert.Equal(t, d, RestoreOptions{}.WithDefaults(d))
	assert.Equal(t,
		RestoreOptions{Position: PositionAppend, Name: NameRename},
		RestoreOptions{Position: PositionAppend}.WithDefaults(d))
}

func TestMaxAgeCutoff(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), Days(14).Cutoff(now))
}
