// Package notify delivers guest and admin messages. The wire adapter is a
// JSON webhook; the receiving side decides whether that turns into email,
// SMS, or a chat message.
package notify

import (
	"context"

	"github.com/guestgate/access-server-go/internal/model"
)

// MessageKind distinguishes guest access messages from operational alerts.
type MessageKind string

const (
	KindAccessCode MessageKind = "access_code"
	KindAdminAlert MessageKind = "admin_alert"
)

// Message is the payload handed to a Notifier. Code/Token/Reservation are
// set for access messages; Body carries the text of admin alerts.
type Message struct {
	Kind         MessageKind        `json:"kind"`
	Code         string             `json:"code,omitempty"`
	Token        string             `json:"token,omitempty"`
	Reservation  *model.Reservation `json:"reservation,omitempty"`
	Instructions string             `json:"instructions,omitempty"`
	Body         string             `json:"body,omitempty"`
}

// Notifier sends a message to a contact address. Implementations must be
// safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, contact string, msg Message) error
}
