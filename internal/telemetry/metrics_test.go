package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashjosh/meshauth/internal/config"
)

func TestAuthMetrics_NilReceiver(t *testing.T) {
	var m *AuthMetrics
	assert.NotPanics(t, func() {
		m.RecordAuth(context.Background(), "rejected", "invalid_token")
		m.RecordRenewal(context.Background(), false)
	})
}

func TestAuthMetrics_Record(t *testing.T) {
	m, err := NewAuthMetrics()
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.RecordAuth(context.Background(), "authenticated", "")
		m.RecordAuth(context.Background(), "rejected", "expired_no_refresh")
		m.RecordRenewal(context.Background(), true)
	})
}

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), config.ObservabilityConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_RejectsUnsupportedProtocol(t *testing.T) {
	_, err := Init(context.Background(), config.ObservabilityConfig{
		OTLPEndpoint: "localhost:4318",
		OTLPProtocol: "grpc",
	}, zerolog.Nop())
	assert.Error(t, err)
}
