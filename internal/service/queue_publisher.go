// Package queue_publisher publishes audit entries to RabbitMQ.  Errors are
// logged and returned so callers can decide to carry on without them.
package queue_publisher

import (
    "context"
    "encoding/json"
    "time"

    "github.com/google/uuid"
    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"

    "github.com/iliyamo/facility-membership/internal/model"
    q "github.com/iliyamo/facility-membership/internal/queue"
)

// maxDialTimeout caps connection setup when the caller sets no deadline.
const maxDialTimeout = 5 * time.Second

// dialTimeout bounds connection setup by the time left on ctx.
func dialTimeout(ctx context.Context) time.Duration {
    d := maxDialTimeout
    if deadline, ok := ctx.Deadline(); ok {
        if left := time.Until(deadline); left < d {
            d = left
        }
    }
    if d < 10*time.Millisecond {
        d = 10 * time.Millisecond
    }
    return d
}

// Publisher sends audit entries to the audit.events queue.  It dials per
// publish; audit volume is a handful of messages per staff action.
type Publisher struct {
    url string
    log *zap.Logger
}

func NewPublisher(url string, log *zap.Logger) *Publisher {
    if log == nil {
        log = zap.NewNop()
    }
    return &Publisher{url: url, log: log}
}

// Record publishes e as a persistent message.
func (p *Publisher) Record(ctx context.Context, e model.AuditEntry) error {
    pub, err := newPublishing(e)
    if err != nil {
        p.log.Error("rabbitmq: marshal audit event failed", zap.Error(err))
        return err
    }

    if err := ctx.Err(); err != nil {
        return err
    }
    conn, err := amqp.DialConfig(p.url, amqp.Config{
        Heartbeat: 10 * time.Second,
        Locale:    "en_US",
        Dial:      amqp.DefaultDial(dialTimeout(ctx)),
    })
    if err != nil {
        p.log.Warn("rabbitmq: dial failed", zap.Error(err))
        return err
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        p.log.Warn("rabbitmq: channel open failed", zap.Error(err))
        return err
    }
    defer func() { _ = ch.Close() }()

    // Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(q.AuditQueueName, true, false, false, false, nil); err != nil {
        p.log.Warn("rabbitmq: queue declare failed", zap.Error(err))
        return err
    }

    if err := ch.PublishWithContext(ctx,
        "",               // default exchange
        q.AuditQueueName, // routing key = queue name
        false,            // mandatory
        false,            // immediate
        pub,
    ); err != nil {
        p.log.Warn("rabbitmq: publish failed", zap.Error(err))
        return err
    }
    return nil
}

func newPublishing(e model.AuditEntry) (amqp.Publishing, error) {
    if e.ID == "" {
        e.ID = uuid.NewString()
    }
    if e.CreatedAt.IsZero() {
        e.CreatedAt = time.Now().UTC()
    }
    body, err := json.Marshal(q.NewAuditEvent(e))
    if err != nil {
        return amqp.Publishing{}, err
    }
    return amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        MessageId:    e.ID,
        Timestamp:    e.CreatedAt,
        Body:         body,
    }, nil
}
