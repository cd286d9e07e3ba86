package mailer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"announceit/internal/lib/logger"
	"announceit/internal/models"
)

// sendTimeout bounds a single delivery attempt so a stuck SMTP connection
// cannot wedge the worker.
const sendTimeout = 30 * time.Second

// Dispatcher feeds queued messages to a Sender from a single background
// worker. Enqueue never blocks the caller: the HTTP flow must not wait on
// mail delivery, and delivery failures are logged, never surfaced.
type Dispatcher struct {
	log    *slog.Logger
	sender Sender
	queue  chan models.EmailMessage
	wg     sync.WaitGroup
}

func NewDispatcher(log *slog.Logger, sender Sender, buffer int) *Dispatcher {
	d := &Dispatcher{
		log:    log,
		sender: sender,
		queue:  make(chan models.EmailMessage, buffer),
	}

	d.wg.Add(1)
	go d.work()

	return d
}

// Enqueue queues a message for delivery. When the buffer is full the message
// is dropped with an error log; losing a notification must not fail the
// user-facing flow that produced it.
func (d *Dispatcher) Enqueue(msg models.EmailMessage) {
	select {
	case d.queue <- msg:
	default:
		d.log.Error("mail queue full, dropping message", slog.String("to", msg.To))
	}
}

// Close stops accepting messages and waits until the worker drained the
// queue.
func (d *Dispatcher) Close() {
	close(d.queue)
	d.wg.Wait()
}

func (d *Dispatcher) work() {
	defer d.wg.Done()

	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg models.EmailMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("mail worker recovered from panic", slog.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := d.sender.Send(ctx, msg); err != nil {
		d.log.Error("failed to send email", logger.Err(err), slog.String("to", msg.To))
		return
	}

	d.log.Debug("email sent", slog.String("to", msg.To))
}
