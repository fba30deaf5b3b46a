package outbox

import (
	"time"

	"storefront/internal/domain"
	"storefront/internal/kafka"

	"github.com/google/uuid"
)

// emailEvent is the wire payload published for each outbox row. The downstream
// mailer renders and delivers; this service only hands off.
type emailEvent struct {
	ID         uuid.UUID `json:"id"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func encodeEmail(msg *domain.EmailMessage) []byte {
	return kafka.MustMarshal(emailEvent{
		ID:         msg.ID,
		Recipient:  msg.Recipient,
		Subject:    msg.Subject,
		Body:       msg.Body,
		EnqueuedAt: msg.CreatedAt,
	})
}
