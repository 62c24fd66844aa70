package eventbus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/movebid/quoteform/internal/event"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collector struct {
	mu   sync.Mutex
	seen []string
}

func (c *collector) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, evt.EventType)
	return nil
}

func (c *collector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen...)
}

func TestBus_DispatchesInOrder(t *testing.T) {
	bus := New(8, zap.NewNop())
	c := &collector{}
	bus.Subscribe("collector", c)
	bus.Subscribe("log", NewLogConsumer(zap.NewNop()))
	bus.Start(context.Background())

	ctx := context.Background()
	bus.Publish(ctx, event.NewFormConfirmed("s1", event.FormConfirmedPayload{}))
	bus.Publish(ctx, event.NewEstimateSubmitted("s1", event.EstimateSubmittedPayload{EstimateID: "EST-1"}))
	bus.Stop()

	assert.Equal(t, []string{event.TypeFormConfirmed, event.TypeEstimateSubmitted}, c.types())
}

func TestBus_HandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := New(4, nil)
	c := &collector{}
	bus.Subscribe("failing", HandlerFunc(func(context.Context, event.DomainEvent) error {
		return assert.AnError
	}))
	bus.Subscribe("collector", c)
	bus.Start(context.Background())

	bus.Publish(context.Background(), event.NewFormRestored("s1", event.FormRestoredPayload{Outcome: "initialized"}))
	bus.Stop()

	require.Len(t, c.types(), 1)
}

func TestBus_DrainsOnCancel(t *testing.T) {
	bus := New(4, nil)
	c := &collector{}
	bus.Subscribe("collector", c)

	ctx, cancel := context.WithCancel(context.Background())
	bus.Publish(ctx, event.NewSMSVerified(event.VerificationPayload{EstimateID: "7"}))
	cancel()
	bus.Start(ctx)
	bus.Stop()

	assert.Equal(t, []string{event.TypeSMSVerified}, c.types())
}

func TestBus_PublishAfterStopIsDropped(t *testing.T) {
	bus := New(1, nil)
	bus.Start(context.Background())
	bus.Stop()
	bus.Stop()

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), event.NewEmailVerified(event.VerificationPayload{EstimateID: "1"}))
	})
}

func TestBus_StopWithoutStart(t *testing.T) {
	bus := New(1, nil)
	bus.Stop()
}
