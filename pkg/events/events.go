package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/atlalli/redemption/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Event subjects
const (
	RedemptionCommitted    = "redemption.committed"
	GuestConversionPending = "guest.conversion.pending"
	StaffLoggedIn          = "staff.logged_in"
)

// RedemptionCommittedEvent is published after a redemption record is written.
type RedemptionCommittedEvent struct {
	RecordID    string    `json:"record_id"`
	PromotionID string    `json:"promotion_id"`
	VenueID     string    `json:"venue_id"`
	MemberID    string    `json:"member_id,omitempty"`
	GuestEmail  string    `json:"guest_email,omitempty"`
	StaffID     string    `json:"staff_id"`
	Tier        string    `json:"tier"`
	RedeemedAt  time.Time `json:"redeemed_at"`
}

// GuestConversionPendingEvent is published when a guest redeems for the first
// time and should be invited to become a member.
type GuestConversionPendingEvent struct {
	GuestEmail string    `json:"guest_email"`
	VenueID    string    `json:"venue_id"`
	StaffID    string    `json:"staff_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// StaffLoggedInEvent is published on each successful scanner login.
type StaffLoggedInEvent struct {
	StaffID string `json:"staff_id"`
	VenueID string `json:"venue_id"`
	Role    string `json:"role"`
}
