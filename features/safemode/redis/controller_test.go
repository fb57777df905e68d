package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	safemoderedis "goa.design/autonomy-kernel/features/safemode/redis"
	"goa.design/autonomy-kernel/kernel/types"
)

func newTestController(t *testing.T, threshold int, cooldown time.Duration) (*safemoderedis.Controller, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return safemoderedis.New(client, "agent-1", threshold, cooldown), mr
}

func TestController_EscalatesAfterThresholdFailures(t *testing.T) {
	ctrl, _ := newTestController(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		active, err := ctrl.RecordFailure(ctx)
		require.NoError(t, err)
		require.False(t, active)
	}
	active, err := ctrl.RecordFailure(ctx)
	require.NoError(t, err)
	require.True(t, active)

	activeNow, err := ctrl.Active(ctx)
	require.NoError(t, err)
	require.True(t, activeNow)
}

func TestController_AdmitOnlyReadOnlyWhileActive(t *testing.T) {
	ctrl, _ := newTestController(t, 1, time.Minute)
	ctx := context.Background()

	_, err := ctrl.RecordFailure(ctx)
	require.NoError(t, err)

	require.NoError(t, ctrl.Admit(ctx, types.RiskReadOnly))
	require.Error(t, ctrl.Admit(ctx, types.RiskReversible))
}

func TestController_RecordSuccessResetsCounter(t *testing.T) {
	ctrl, _ := newTestController(t, 3, time.Minute)
	ctx := context.Background()

	_, err := ctrl.RecordFailure(ctx)
	require.NoError(t, err)
	_, err = ctrl.RecordFailure(ctx)
	require.NoError(t, err)
	require.NoError(t, ctrl.RecordSuccess(ctx))

	active, err := ctrl.RecordFailure(ctx)
	require.NoError(t, err)
	require.False(t, active, "counter should have reset, one more failure shouldn't trip threshold 3")
}

func TestController_CooldownTTLExpiresActiveFlag(t *testing.T) {
	ctrl, mr := newTestController(t, 1, 50*time.Millisecond)
	ctx := context.Background()

	_, err := ctrl.RecordFailure(ctx)
	require.NoError(t, err)

	active, err := ctrl.Active(ctx)
	require.NoError(t, err)
	require.True(t, active)

	mr.FastForward(100 * time.Millisecond)

	active, err = ctrl.Active(ctx)
	require.NoError(t, err)
	require.False(t, active)
}

func TestController_ExitManualClearsStateAcrossProcesses(t *testing.T) {
	ctrl, mr := newTestController(t, 1, time.Hour)
	ctx := context.Background()

	_, err := ctrl.RecordFailure(ctx)
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	other := safemoderedis.New(client, "agent-1", 1, time.Hour)
	require.NoError(t, other.ExitManual(ctx))

	active, err := ctrl.Active(ctx)
	require.NoError(t, err)
	require.False(t, active)
}
