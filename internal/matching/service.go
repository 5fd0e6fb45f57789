package matching

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/veil/chat-app/internal/messaging"
)

// joinTimeout bounds one full scan, including all Redis round-trips.
const joinTimeout = 10 * time.Second

// Service consumes join requests from NATS and runs them through the engine
// on a bounded worker pool. Multiple matcher instances can run concurrently;
// the queue store's atomic pops keep them from handing out the same candidate
// twice.
type Service struct {
	engine  *Engine
	nats    *messaging.NATSClient
	notify  *messaging.RoomNotifier
	workers chan struct{}
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewService creates a matcher service. workerCount bounds the number of
// concurrent scans; values below 1 fall back to 32.
func NewService(engine *Engine, nats *messaging.NATSClient, workerCount int) *Service {
	if workerCount < 1 {
		workerCount = 32
	}
	return &Service{
		engine:  engine,
		nats:    nats,
		notify:  messaging.NewRoomNotifier(nats),
		workers: make(chan struct{}, workerCount),
		done:    make(chan struct{}),
	}
}

// Start subscribes to join requests. It returns immediately; work happens on
// the worker pool until Stop is called.
func (s *Service) Start() error {
	return s.nats.SubscribeMatchJoin(func(data []byte) {
		req, err := messaging.DecodeMatchJoin(data)
		if err != nil {
			log.Printf("[match] bad join request: %v", err)
			return
		}

		select {
		case s.workers <- struct{}{}:
		case <-s.done:
			return
		}

		s.wg.Add(1)
		go func() {
			defer func() {
				<-s.workers
				s.wg.Done()
			}()

			ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
			defer cancel()

			join := NewJoinRequest(req.ConnID, req.AnonID, req.Join)
			if err := s.engine.Join(ctx, join); err != nil {
				log.Printf("[match] join %s: %v", req.ConnID, err)
				_ = s.notify.Error(ctx, req.ConnID, "join_failed", "could not process join request")
			}
		}()
	})
}

// Stop waits for in-flight scans to finish. The NATS subscription is drained
// by the client's Close.
func (s *Service) Stop() {
	close(s.done)
	s.wg.Wait()
	log.Println("[match] service stopped")
}
