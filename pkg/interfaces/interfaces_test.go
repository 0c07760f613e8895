package interfaces_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"classroomhub/internal/auth"
	"classroomhub/internal/database"
	"classroomhub/internal/lifecycle"
	"classroomhub/internal/websocket"
	"classroomhub/pkg/interfaces"
)

// ARCHITECTURAL VALIDATION TEST: concrete components satisfy the shared contracts
var (
	_ interfaces.Store          = (*database.Manager)(nil)
	_ interfaces.Store          = (*database.MemoryStore)(nil)
	_ interfaces.Connection     = (*websocket.Connection)(nil)
	_ interfaces.TokenValidator = (*auth.JWTValidator)(nil)
	_ interfaces.Scheduler      = (*lifecycle.Scheduler)(nil)
)

func TestTrigger_Recurring(t *testing.T) {
	assert.False(t, interfaces.Trigger{At: time.Now()}.Recurring())
	assert.True(t, interfaces.Trigger{Daily: "59 23 * * *"}.Recurring())
	assert.False(t, interfaces.Trigger{}.Recurring())
}
