package sse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncDispatcherPreservesSubmissionOrder(t *testing.T) {
	d := NewAsyncDispatcher(0)
	defer d.Stop()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		i := i
		d.Submit(func() {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	want := make([]int, 10)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
}

func TestAsyncDispatcherBackpressureBlocksSubmitter(t *testing.T) {
	d := NewAsyncDispatcher(1)
	defer d.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	d.Submit(func() {
		close(started)
		<-release
	})
	<-started

	submitted := make(chan struct{})
	go func() {
		d.Submit(func() {})
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("second Submit should have blocked while the permit is held")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("second Submit never completed after the permit was released")
	}
}

func TestAsyncDispatcherRecoversHandlerPanic(t *testing.T) {
	d := NewAsyncDispatcher(0)
	defer d.Stop()

	var ran bool
	var wg sync.WaitGroup
	wg.Add(2)
	d.Submit(func() {
		defer wg.Done()
		panic("boom")
	})
	d.Submit(func() {
		defer wg.Done()
		ran = true
	})
	wg.Wait()
	assert.True(t, ran, "dispatcher must keep processing after a handler panic")
}

func TestAsyncDispatcherStopThenSubmitIsNoop(t *testing.T) {
	d := NewAsyncDispatcher(0)
	d.Stop()
	d.Stop() // idempotent

	called := false
	d.Submit(func() { called = true })

	require.True(t, d.Wait(context.Background()))
	assert.False(t, called)
}
