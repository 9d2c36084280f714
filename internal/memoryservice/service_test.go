package memoryservice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripplan-go/internal/model"
)

type failingProvider struct{}

func (failingProvider) Write(context.Context, string, string, model.JSONMap) (string, error) {
	return "", assertError("provider unavailable")
}
func (failingProvider) Search(context.Context, string, string, int) ([]model.MemoryItem, error) {
	return nil, assertError("provider unavailable")
}

type assertError string

func (e assertError) Error() string { return string(e) }

// TestWriteMemory_DisabledProviderDegrades covers spec §4.E: with no
// provider configured, Write must still succeed with a synthetic id
// rather than surfacing an error.
func TestWriteMemory_DisabledProviderDegrades(t *testing.T) {
	svc := New(nil, nil)
	id, err := svc.WriteMemory(context.Background(), 1, model.MemoryLevelUser, "likes museums", nil, "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestSearchMemory_DisabledProviderReturnsFallback(t *testing.T) {
	svc := New(nil, nil)
	_, err := svc.WriteMemory(context.Background(), 1, model.MemoryLevelUser, "likes museums", nil, "", nil)
	require.NoError(t, err)

	items, err := svc.SearchMemory(context.Background(), 1, model.MemoryLevelUser, "museums", nil, "", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, items)
}

// TestSearchMemory_ProviderFailureReturnsEmpty covers the failure mode:
// all provider errors are caught, search degrades to empty (or the local
// mirror), and the call never surfaces the provider error.
func TestSearchMemory_ProviderFailureReturnsEmpty(t *testing.T) {
	svc := New(failingProvider{}, nil)
	items, err := svc.SearchMemory(context.Background(), 1, model.MemoryLevelUser, "anything", nil, "", 5)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestWriteMemory_ProviderFailureStillSucceeds(t *testing.T) {
	svc := New(failingProvider{}, nil)
	id, err := svc.WriteMemory(context.Background(), 1, model.MemoryLevelUser, "likes museums", nil, "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
