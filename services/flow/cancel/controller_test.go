// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cancel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_CancelDeliversReason(t *testing.T) {
	c := NewController(nil)

	ctx, err := c.Register(context.Background(), "run-1")
	require.NoError(t, err)
	defer c.Release("run-1")

	require.NoError(t, c.Cancel("run-1", UserReason("stop button")))

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}

	var reason *Reason
	require.True(t, errors.As(context.Cause(ctx), &reason))
	assert.Equal(t, CancelUser, reason.Type)
	assert.Equal(t, "cancelled (user): stop button", context.Cause(ctx).Error())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	st, ok := c.State("run-1")
	require.True(t, ok)
	assert.Equal(t, "cancelled", st.State)
	assert.Contains(t, st.Reason, "stop button")

	assert.ErrorIs(t, c.Cancel("run-1", UserReason("again")), ErrAlreadyCancelled)
}

func TestController_RegisterErrors(t *testing.T) {
	c := NewController(nil)

	//nolint:staticcheck // nil context on purpose
	_, err := c.Register(nil, "x")
	assert.ErrorIs(t, err, ErrNilContext)

	_, err = c.Register(context.Background(), "x")
	require.NoError(t, err)
	_, err = c.Register(context.Background(), "x")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	assert.ErrorIs(t, c.Cancel("missing", UserReason("")), ErrRunNotFound)
}

func TestController_ReleaseForgetsRun(t *testing.T) {
	c := NewController(nil)
	ctx, err := c.Register(context.Background(), "run")
	require.NoError(t, err)

	c.Release("run")
	_, ok := c.State("run")
	assert.False(t, ok)
	assert.Error(t, ctx.Err(), "released context is freed")
	var reason *Reason
	assert.False(t, errors.As(context.Cause(ctx), &reason), "release is not a cancellation reason")

	// The id can be reused after release.
	_, err = c.Register(context.Background(), "run")
	assert.NoError(t, err)
}

func TestController_Timeout(t *testing.T) {
	c := NewController(nil)
	ctx, err := c.RegisterWithTimeout(context.Background(), "slow", 10*time.Millisecond)
	require.NoError(t, err)
	defer c.Release("slow")

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout did not fire")
	}
	var reason *Reason
	require.True(t, errors.As(context.Cause(ctx), &reason))
	assert.Equal(t, CancelTimeout, reason.Type)
}

func TestController_ShutdownCancelsAll(t *testing.T) {
	c := NewController(nil)
	ctxA, _ := c.Register(context.Background(), "a")
	ctxB, _ := c.Register(context.Background(), "b")
	require.NoError(t, c.Cancel("b", UserReason("")))

	assert.Equal(t, 1, c.Shutdown("sigterm"))
	assert.Error(t, ctxA.Err())
	assert.Error(t, ctxB.Err())

	var reason *Reason
	require.True(t, errors.As(context.Cause(ctxA), &reason))
	assert.Equal(t, CancelShutdown, reason.Type)

	_, err := c.Register(context.Background(), "c")
	assert.ErrorIs(t, err, ErrControllerClosed)

	assert.Len(t, c.Active(), 2)
}

func TestController_ShutdownRacesRegister(t *testing.T) {
	c := NewController(nil)
	const n = 64
	ctxs := make([]context.Context, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, err := c.RegisterWithTimeout(context.Background(), fmt.Sprintf("run-%d", i), time.Minute)
			if err == nil {
				ctxs[i] = ctx
			}
		}(i)
	}
	c.Shutdown("sigterm")
	wg.Wait()

	for i, ctx := range ctxs {
		if ctx == nil {
			continue
		}
		assert.Error(t, ctx.Err(), "run-%d registered but survived shutdown", i)
	}
	_, err := c.RegisterWithTimeout(context.Background(), "late", time.Minute)
	assert.ErrorIs(t, err, ErrControllerClosed)
}

func TestController_ParentCancellation(t *testing.T) {
	c := NewController(nil)
	parent, cancel := context.WithCancel(context.Background())
	ctx, err := c.Register(parent, "child")
	require.NoError(t, err)
	defer c.Release("child")

	cancel()
	<-ctx.Done()
	assert.ErrorIs(t, context.Cause(ctx), context.Canceled)

	st, _ := c.State("child")
	assert.Equal(t, "running", st.State, "parent cancellation is not recorded as a controller cancel")
}

func TestCancelType_String(t *testing.T) {
	assert.Equal(t, "user", CancelUser.String())
	assert.Equal(t, "timeout", CancelTimeout.String())
	assert.Equal(t, "shutdown", CancelShutdown.String())
	assert.Equal(t, "unknown", CancelType(42).String())
}
