package render

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	ctx := context.Background()

	out, err := r.Render(ctx, Target{Instance: 1, Component: "A"})
	require.NoError(t, err)
	assert.Equal(t, Target{Instance: 1, Component: "A"}, out)

	_, _ = r.Render(ctx, Target{Instance: 2, Component: "B", Reason: ReasonUpdate})
	_, _ = r.Render(ctx, Target{Instance: 1, Component: "A", Reason: ReasonUpdate})

	assert.Equal(t, 3, r.Len())
	assert.Len(t, r.For(1), 2)
	assert.Equal(t, ReasonUpdate, r.For(2)[0].Reason)

	r.Reset()
	assert.Zero(t, r.Len())
}

func TestRecorderNext(t *testing.T) {
	boom := errors.New("boom")
	r := &Recorder{Next: func(Target) (Output, error) { return nil, boom }}

	_, err := r.Render(context.Background(), Target{Instance: 1})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, r.Len(), "failed renders are still recorded")
}

func TestFuncAndNop(t *testing.T) {
	f := Func(func(_ context.Context, t Target) (Output, error) { return t.Component, nil })
	out, err := f.Render(context.Background(), Target{Component: "X"})
	require.NoError(t, err)
	assert.Equal(t, "X", out)

	out, err = Nop{}.Render(context.Background(), Target{})
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "mount", ReasonMount.String())
	assert.Equal(t, "update", ReasonUpdate.String())
}
