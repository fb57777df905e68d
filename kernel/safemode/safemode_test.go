package safemode_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/autonomy-kernel/kernel/fsm"
	"goa.design/autonomy-kernel/kernel/hooks"
	"goa.design/autonomy-kernel/kernel/safemode"
	"goa.design/autonomy-kernel/kernel/telemetry"
	"goa.design/autonomy-kernel/kernel/types"
)

func driveToExecuting(t *testing.T, m *fsm.Machine) {
	t.Helper()
	_, err := m.Fire(context.Background(), fsm.TriggerToolValidated)
	require.NoError(t, err)
}

func TestController_EscalatesAfterConsecutiveErrorsReachThreshold(t *testing.T) {
	bus := hooks.NewBus(telemetry.NewNoopLogger())
	machine := fsm.New(bus)
	ctrl := safemode.New(machine, bus, 2, time.Hour)

	driveToExecuting(t, machine)
	_, err := machine.Fire(context.Background(), fsm.TriggerFatalError)
	require.NoError(t, err)
	require.False(t, ctrl.Active())
	_, err = machine.Fire(context.Background(), fsm.TriggerRecover)
	require.NoError(t, err)

	driveToExecuting(t, machine)
	_, err = machine.Fire(context.Background(), fsm.TriggerFatalError)
	require.NoError(t, err)

	require.True(t, ctrl.Active())
	require.Equal(t, fsm.StateSafeMode, machine.State())
}

func TestController_AdmitOnlyAllowsReadOnlyWhileActive(t *testing.T) {
	bus := hooks.NewBus(telemetry.NewNoopLogger())
	machine := fsm.New(bus)
	ctrl := safemode.New(machine, bus, 1, time.Hour)

	require.NoError(t, ctrl.Admit(types.RiskIrreversible))

	driveToExecuting(t, machine)
	_, err := machine.Fire(context.Background(), fsm.TriggerFatalError)
	require.NoError(t, err)
	require.True(t, ctrl.Active())

	require.NoError(t, ctrl.Admit(types.RiskReadOnly))
	require.Error(t, ctrl.Admit(types.RiskReversible))
	require.Error(t, ctrl.Admit(types.RiskIrreversible))
	require.Error(t, ctrl.Admit(types.RiskUndefined))
}

func TestController_ExitManualClearsActiveAndRestoresAdmission(t *testing.T) {
	bus := hooks.NewBus(telemetry.NewNoopLogger())
	machine := fsm.New(bus)
	ctrl := safemode.New(machine, bus, 1, time.Hour)

	driveToExecuting(t, machine)
	_, err := machine.Fire(context.Background(), fsm.TriggerFatalError)
	require.NoError(t, err)
	require.True(t, ctrl.Active())

	require.NoError(t, ctrl.ExitManual(context.Background()))
	require.False(t, ctrl.Active())
	require.NoError(t, ctrl.Admit(types.RiskIrreversible))
	require.Equal(t, fsm.StateIdle, machine.State())
}

func TestController_TryAutoExitRespectsCooldown(t *testing.T) {
	bus := hooks.NewBus(telemetry.NewNoopLogger())
	machine := fsm.New(bus)
	ctrl := safemode.New(machine, bus, 1, 50*time.Millisecond)

	driveToExecuting(t, machine)
	_, err := machine.Fire(context.Background(), fsm.TriggerFatalError)
	require.NoError(t, err)

	exited, err := ctrl.TryAutoExit(context.Background())
	require.NoError(t, err)
	require.False(t, exited)
	require.True(t, ctrl.Active())

	time.Sleep(60 * time.Millisecond)
	exited, err = ctrl.TryAutoExit(context.Background())
	require.NoError(t, err)
	require.True(t, exited)
	require.False(t, ctrl.Active())
}
