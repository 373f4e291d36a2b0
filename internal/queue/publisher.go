package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log/slog"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/cinema-booking-coordinator/internal/reservation"
)

// Publisher sends BookingConfirmedEvents to the booking.confirmed queue.
// The connection is opened lazily and re-opened after the broker drops it.
// Errors are logged and returned; callers ignore them without interrupting
// the booking flow.  Messages are persistent.
type Publisher struct {
    url string
    log *slog.Logger

    mu   sync.Mutex
    conn *amqp.Connection
    ch   *amqp.Channel
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, log *slog.Logger) *Publisher {
    if log == nil { log = slog.Default() }
    return &Publisher{url: url, log: log}
}

// PublishBookingConfirmed publishes the event of c.
func (p *Publisher) PublishBookingConfirmed(ctx context.Context, c reservation.Confirmation) error {
    ev := NewBookingConfirmedEvent(c)
    body, err := json.Marshal(ev)
    if err != nil {
        return fmt.Errorf("marshal event: %w", err)
    }

    p.mu.Lock()
    defer p.mu.Unlock()

    ch, err := p.channelLocked()
    if err != nil {
        p.log.Warn("rabbitmq: connect failed", slog.String("error", err.Error()))
        return err
    }
    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        MessageId:    ev.ReservationID,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx, "", BookingQueueName, false, false, pub); err != nil {
        p.resetLocked()
        p.log.Warn("rabbitmq: publish failed", slog.String("reservation_id", ev.ReservationID), slog.String("error", err.Error()))
        return err
    }
    p.log.Debug("booking.confirmed published", slog.String("reservation_id", ev.ReservationID))
    return nil
}

func (p *Publisher) channelLocked() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    p.resetLocked()

    conn, err := amqp.Dial(p.url)
    if err != nil {
        return nil, fmt.Errorf("dial: %w", err)
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, fmt.Errorf("channel open: %w", err)
    }
    // Idempotent; durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(BookingQueueName, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, fmt.Errorf("queue declare: %w", err)
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

func (p *Publisher) resetLocked() {
    if p.ch != nil {
        _ = p.ch.Close()
    }
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.conn, p.ch = nil, nil
}

// Close closes the broker connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.conn == nil {
        return nil
    }
    err := p.conn.Close()
    p.conn, p.ch = nil, nil
    if errors.Is(err, amqp.ErrClosed) {
        return nil
    }
    return err
}

// InlinePublisher stores the receipt of a confirmation directly, for
// deployments with a receipt database but no broker.
type InlinePublisher struct {
    Store ReceiptStore
}

// PublishBookingConfirmed saves the receipt of c.
func (p InlinePublisher) PublishBookingConfirmed(ctx context.Context, c reservation.Confirmation) error {
    rec, err := NewBookingConfirmedEvent(c).Record()
    if err != nil {
        return err
    }
    return p.Store.Save(ctx, rec)
}
