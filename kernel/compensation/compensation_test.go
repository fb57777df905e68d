package compensation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/autonomy-kernel/kernel/compensation"
)

func TestCompensate_MissingRegistration(t *testing.T) {
	r := compensation.New()
	out := r.Compensate(context.Background(), "send_email")
	require.False(t, out.Attempted)
	require.False(t, out.Success)
	require.Equal(t, "No compensation registered for send_email", out.Detail)
}

func TestCompensate_Success(t *testing.T) {
	r := compensation.New()
	r.Register("send_email", func(ctx context.Context) error { return nil })
	out := r.Compensate(context.Background(), "send_email")
	require.True(t, out.Attempted)
	require.True(t, out.Success)
}

func TestCompensate_ErrorIsNormalized(t *testing.T) {
	r := compensation.New()
	r.Register("send_email", func(ctx context.Context) error { return errors.New("smtp unreachable") })
	out := r.Compensate(context.Background(), "send_email")
	require.True(t, out.Attempted)
	require.False(t, out.Success)
	require.Equal(t, "smtp unreachable", out.Detail)
}

func TestCompensate_PanicIsNormalized(t *testing.T) {
	r := compensation.New()
	r.Register("send_email", func(ctx context.Context) error { panic("nil pointer") })
	out := r.Compensate(context.Background(), "send_email")
	require.True(t, out.Attempted)
	require.False(t, out.Success)
	require.Equal(t, "nil pointer", out.Detail)
}
