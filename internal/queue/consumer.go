package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log/slog"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/cinema-booking-coordinator/internal/model"
    "github.com/iliyamo/cinema-booking-coordinator/internal/repository"
)

// ReceiptStore persists confirmed bookings.
type ReceiptStore interface {
    Save(ctx context.Context, rec model.BookingRecord) error
}

// errPoison marks messages that can never be processed.
var errPoison = errors.New("poison message")

// Consumer reads booking.confirmed and stores a receipt per event.
type Consumer struct {
    url      string
    store    ReceiptStore
    log      *slog.Logger
    prefetch int
}

// NewConsumer returns a Consumer writing to store.
func NewConsumer(url string, store ReceiptStore, log *slog.Logger) *Consumer {
    if log == nil { log = slog.Default() }
    return &Consumer{url: url, store: store, log: log, prefetch: 50}
}

// Run connects to RabbitMQ and consumes until ctx is done, reconnecting
// with exponential backoff whenever the broker is unreachable or drops the
// connection.  Each message is acknowledged after its receipt is stored;
// poison messages are rejected without requeue, storage failures are
// requeued.
func (c *Consumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(c.url)
        if err != nil {
            c.log.Warn("booking-consumer: dial failed", slog.String("error", err.Error()), slog.Duration("retry_in", backoff))
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = c.consume(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            c.log.Info("booking-consumer: stopped")
            return ctx.Err()
        }
        c.log.Warn("booking-consumer: consume loop ended; reconnecting", slog.String("error", err.Error()))
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(c.prefetch, 0, false); err != nil {
        c.log.Warn("booking-consumer: set QoS failed", slog.String("error", err.Error()))
    }
    if _, err := ch.QueueDeclare(BookingQueueName, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.ConsumeWithContext(ctx, BookingQueueName, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }
    c.log.Info("booking-consumer: consuming", slog.String("queue", BookingQueueName))

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            c.deliver(ctx, d)
        }
    }
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
    err := c.handleMessage(ctx, d.Body)
    switch {
    case err == nil:
        _ = d.Ack(false)
    case errors.Is(err, errPoison):
        c.log.Error("booking-consumer: rejecting message", slog.String("message_id", d.MessageId), slog.String("error", err.Error()))
        _ = d.Nack(false, false)
    default:
        c.log.Warn("booking-consumer: storing receipt failed", slog.String("message_id", d.MessageId), slog.String("error", err.Error()))
        _ = d.Nack(false, !d.Redelivered)
    }
}

func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
    var ev BookingConfirmedEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("%w: unmarshal: %v", errPoison, err)
    }
    if ev.ReservationID == "" || ev.PatronID == "" {
        return fmt.Errorf("%w: missing reservation or patron id", errPoison)
    }
    rec, err := ev.Record()
    if err != nil {
        return fmt.Errorf("%w: %v", errPoison, err)
    }
    if err := c.store.Save(ctx, rec); err != nil {
        if errors.Is(err, repository.ErrConflict) {
            return fmt.Errorf("%w: %v", errPoison, err)
        }
        return err
    }
    c.log.Info("receipt stored",
        slog.String("reservation_id", rec.ReservationID),
        slog.String("patron_id", rec.PatronID),
        slog.Int("tickets", len(rec.Tickets)),
        slog.Uint64("total_cents", uint64(rec.TotalAmountCents)))
    return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-t.C:
        return true
    case <-ctx.Done():
        return false
    }
}
