package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"

    "github.com/iliyamo/facility-membership/internal/model"
)

// EntryWriter persists audit entries.  *repository.AuditRepo implements it.
type EntryWriter interface {
    Record(ctx context.Context, e model.AuditEntry) error
}

// ErrMalformedEvent marks a message that can never be processed.
var ErrMalformedEvent = errors.New("malformed audit event")

// StartAuditConsumer connects to RabbitMQ, declares the audit.events queue
// (durable) and writes every message through w.  It reconnects with
// backoff until ctx is cancelled, then returns ctx.Err().
func StartAuditConsumer(ctx context.Context, url string, w EntryWriter, log *zap.Logger) error {
    if log == nil {
        log = zap.NewNop()
    }
    backoff := time.Second
    for {
        if err := ctx.Err(); err != nil {
            return err
        }
        conn, err := amqp.Dial(url)
        if err != nil {
            log.Warn("audit consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = consumeLoop(ctx, conn, w, log)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.Warn("audit consumer: consume loop ended, reconnecting", zap.Error(err))
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, w EntryWriter, log *zap.Logger) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        log.Warn("audit consumer: set QoS failed", zap.Error(err))
    }
    if _, err := ch.QueueDeclare(AuditQueueName, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(AuditQueueName, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            switch err := handleMessage(ctx, w, d.Body); {
            case err == nil:
                _ = d.Ack(false)
            case errors.Is(err, ErrMalformedEvent):
                log.Error("audit consumer: dropping message", zap.Error(err))
                _ = d.Nack(false, false)
            default:
                // storage trouble: hand the message back once
                log.Warn("audit consumer: write failed", zap.Error(err), zap.Bool("redelivered", d.Redelivered))
                _ = d.Nack(false, !d.Redelivered)
            }
        }
    }
}

func handleMessage(ctx context.Context, w EntryWriter, body []byte) error {
    var ev AuditEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
    }
    if ev.Action == "" || ev.Resource == "" {
        return fmt.Errorf("%w: action and resource are required", ErrMalformedEvent)
    }
    if err := w.Record(ctx, ev.Entry()); err != nil {
        return fmt.Errorf("record audit entry: %w", err)
    }
    return nil
}
