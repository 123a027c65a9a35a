package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncStatus_IsTerminal(t *testing.T) {
	assert.False(t, SyncStatusPending.IsTerminal())
	assert.False(t, SyncStatusInProgress.IsTerminal())
	assert.True(t, SyncStatusComplete.IsTerminal())
	assert.True(t, SyncStatusError.IsTerminal())
}
