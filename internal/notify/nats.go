package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

type NatsPublisher struct {
	nc      *nats.Conn
	subject string
}

func NewNatsPublisher(nc *nats.Conn, subject string) *NatsPublisher {
	return &NatsPublisher{nc: nc, subject: subject}
}

func (p *NatsPublisher) Notify(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}

	msg := &nats.Msg{
		Subject: p.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Event", event.Type)
	if event.Post != nil {
		msg.Header.Set("Post-Status", event.Post.Status)
		slog.Debug("publishing event", "subject", p.subject, "post_id", event.Post.ID)
	}
	return p.nc.PublishMsg(msg)
}
