package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tracker_server/adapter/out/messaging"
)

const consumerGroup = "autoreply-workers"

// Worker consumes the auto-reply stream. Without Redis there is nothing
// to consume and jobs run on the API process's pool instead.
type Worker struct {
	deps     *Dependencies
	consumer *messaging.Consumer
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      zerolog.Logger
}

func NewWorker(deps *Dependencies) *Worker {
	cfg := deps.Config
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		log:    deps.Log.With().Str("component", "worker").Logger(),
	}

	if deps.Redis != nil {
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:                consumerGroup,
			Consumer:             cfg.WorkerID,
			Streams:              []string{messaging.StreamAutoReply},
			Handler:              deps.JobHandler,
			Logger:               deps.Log,
			BatchSize:            cfg.ConsumerBatchSize,
			Block:                time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
			PendingCheckInterval: time.Duration(cfg.ConsumerPendingCheckSec) * time.Second,
		})
	}
	return w
}

// Start blocks until Stop is called.
func (w *Worker) Start() {
	if w.consumer == nil {
		w.log.Warn().Msg("no job stream configured; auto-replies run on the API process")
		<-w.ctx.Done()
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error().Err(err).Msg("stream consumer stopped")
		}
	}()

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
}
