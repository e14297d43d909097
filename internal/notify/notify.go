// Package notify доставляет ресторанам уведомления о новых заказах.
// Доставка асинхронная: ошибки логируются и никогда не влияют на создание заказа.
package notify

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mmeshcher/campus-preorder/internal/model"
)

// Sink доставляет уведомления конечному получателю.
type Sink interface {
	Notify(ctx context.Context, restaurantID string, summary model.OrderSummary) error
}

// LogSink только записывает уведомление в лог. Используется, когда брокер не настроен.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink создаёт приёмник, пишущий уведомления в лог.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, restaurantID string, summary model.OrderSummary) error {
	s.logger.Info("new order notification",
		zap.String("restaurantID", restaurantID),
		zap.String("orderID", summary.OrderID),
		zap.Int64("number", summary.Number),
	)
	return nil
}

type job struct {
	restaurantID string
	summary      model.OrderSummary
}

// Dispatcher принимает уведомления без блокировки и доставляет их в фоне.
type Dispatcher struct {
	sink    Sink
	logger  *zap.Logger
	queue   chan job
	dropped atomic.Int64
}

// NewDispatcher создаёт диспетчер с буфером на size уведомлений.
func NewDispatcher(sink Sink, logger *zap.Logger, size int) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	return &Dispatcher{
		sink:   sink,
		logger: logger,
		queue:  make(chan job, size),
	}
}

// Notify ставит уведомление в очередь. При переполненном буфере уведомление отбрасывается.
func (d *Dispatcher) Notify(ctx context.Context, restaurantID string, summary model.OrderSummary) error {
	select {
	case d.queue <- job{restaurantID: restaurantID, summary: summary}:
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification queue full, dropping",
			zap.String("restaurantID", restaurantID),
			zap.String("orderID", summary.OrderID),
		)
	}
	return nil
}

// Dropped возвращает число отброшенных уведомлений.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run доставляет уведомления до отмены контекста.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.queue:
			if err := d.sink.Notify(ctx, j.restaurantID, j.summary); err != nil {
				d.logger.Warn("notification delivery failed",
					zap.Error(err),
					zap.String("restaurantID", j.restaurantID),
					zap.String("orderID", j.summary.OrderID),
				)
			}
		}
	}
}
