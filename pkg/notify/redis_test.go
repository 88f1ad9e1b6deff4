package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestConfigEnabled(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"", false},
		{"   ", false},
		{"localhost:6379", true},
	}
	for _, tt := range tests {
		if got := (Config{Addr: tt.addr}).Enabled(); got != tt.want {
			t.Errorf("Config{Addr: %q}.Enabled() = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestNewRedisPublisher_RequiresAddress(t *testing.T) {
	if _, err := NewRedisPublisher(context.Background(), zerolog.Nop(), Config{}); err == nil {
		t.Fatal("NewRedisPublisher() error = nil, want address error")
	}
}
