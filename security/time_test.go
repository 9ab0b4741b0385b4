package security

import (
	"testing"
	"time"
)

func TestIsTokenExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{
			name:      "expired well in the past",
			expiresAt: time.Now().Add(-1 * time.Hour),
			want:      true,
		},
		{
			name:      "valid for another hour",
			expiresAt: time.Now().Add(1 * time.Hour),
			want:      false,
		},
		{
			name:      "just expired, inside the default grace",
			expiresAt: time.Now().Add(-2 * time.Second),
			want:      false,
		},
		{
			name:      "expired beyond the default grace",
			expiresAt: time.Now().Add(-30 * time.Second),
			want:      true,
		},
		{
			name:      "zero time never expires",
			expiresAt: time.Time{},
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTokenExpired(tt.expiresAt); got != tt.want {
				t.Errorf("IsTokenExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTokenExpiredWithGracePeriod(t *testing.T) {
	tests := []struct {
		name        string
		expiresAt   time.Time
		gracePeriod time.Duration
		want        bool
	}{
		{
			name:        "expired past a long grace",
			expiresAt:   time.Now().Add(-2 * time.Minute),
			gracePeriod: time.Minute,
			want:        true,
		},
		{
			name:        "expired but still inside the grace",
			expiresAt:   time.Now().Add(-30 * time.Second),
			gracePeriod: time.Minute,
			want:        false,
		},
		{
			name:        "not expired at all",
			expiresAt:   time.Now().Add(time.Hour),
			gracePeriod: time.Minute,
			want:        false,
		},
		{
			name:        "zero grace is strict",
			expiresAt:   time.Now().Add(-1 * time.Second),
			gracePeriod: 0,
			want:        true,
		},
		{
			name:        "zero time ignores the grace entirely",
			expiresAt:   time.Time{},
			gracePeriod: time.Minute,
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTokenExpiredWithGracePeriod(tt.expiresAt, tt.gracePeriod); got != tt.want {
				t.Errorf("IsTokenExpiredWithGracePeriod() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTokenExpiringSoon(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		threshold time.Duration
		want      bool
	}{
		{
			name:      "inside the refresh window",
			expiresAt: time.Now().Add(2 * time.Minute),
			threshold: 5 * time.Minute,
			want:      true,
		},
		{
			name:      "well outside the refresh window",
			expiresAt: time.Now().Add(time.Hour),
			threshold: 5 * time.Minute,
			want:      false,
		},
		{
			name:      "already expired counts as expiring",
			expiresAt: time.Now().Add(-1 * time.Minute),
			threshold: 5 * time.Minute,
			want:      true,
		},
		{
			name:      "zero time never expires",
			expiresAt: time.Time{},
			threshold: 5 * time.Minute,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTokenExpiringSoon(tt.expiresAt, tt.threshold); got != tt.want {
				t.Errorf("IsTokenExpiringSoon() = %v, want %v", got, tt.want)
			}
		})
	}
}
