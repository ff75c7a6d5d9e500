package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherHealthCheckWithoutConnection(t *testing.T) {
	p := &RabbitMQPublisher{}
	require.Error(t, p.HealthCheck())
}

func TestPublisherPublishWithoutChannel(t *testing.T) {
	p := &RabbitMQPublisher{exchangeName: "events"}
	err := p.publish(context.Background(), "item.indexed", struct{}{})
	require.Error(t, err)
}

// Publishers and the reconnect loop touch the connection handles from
// different goroutines; this exercises readers against concurrent handle
// swaps (fails under the race detector if the guard regresses).
func TestPublisherHandleSwapIsGuarded(t *testing.T) {
	p := &RabbitMQPublisher{exchangeName: "events"}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = p.HealthCheck()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = p.publish(context.Background(), "item.deleted", struct{}{})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				p.swapHandles(nil, nil)
			}
		}()
	}
	wg.Wait()
}
