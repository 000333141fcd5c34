// Package dlq defines the dead-letter stream format and the operator
// surface for inspecting, retrying, and evicting quarantined notifications.
package dlq

import (
	"strconv"
	"time"

	"github.com/owasp/nest-notifications/internal/stream"
)

// Stream is the dead-letter stream holding undeliverable notifications.
const Stream = "owasp_notifications_dlq"

// Entry types.
const (
	TypeFailedNotification = "failed_notification"
	TypeRecoveryFailed     = "recovery_failed"
)

// Entry is a quarantined notification. Retries of an entry delete the
// original and append a copy with Retries incremented, so the broker ID
// always identifies exactly one attempt generation.
type Entry struct {
	ID               string
	Type             string
	NotificationType string
	UserID           string
	UserEmail        string
	EntityType       string
	EntityID         string
	EntityName       string
	Title            string
	Message          string
	RelatedLink      string
	Timestamp        string
	Retries          int
}

// Record serializes the entry for the DLQ stream.
func (e Entry) Record() stream.Record {
	return stream.Record{
		"type":              e.Type,
		"notification_type": e.NotificationType,
		"user_id":           e.UserID,
		"user_email":        e.UserEmail,
		"entity_type":       e.EntityType,
		"entity_id":         e.EntityID,
		"entity_name":       e.EntityName,
		"title":             e.Title,
		"message":           e.Message,
		"related_link":      e.RelatedLink,
		"timestamp":         e.Timestamp,
		"dlq_retries":       strconv.Itoa(e.Retries),
	}
}

// ParseEntry decodes a DLQ stream message.
func ParseEntry(msg stream.Message) Entry {
	retries, _ := strconv.Atoi(msg.Values["dlq_retries"])
	return Entry{
		ID:               msg.ID,
		Type:             msg.Values["type"],
		NotificationType: msg.Values["notification_type"],
		UserID:           msg.Values["user_id"],
		UserEmail:        msg.Values["user_email"],
		EntityType:       msg.Values["entity_type"],
		EntityID:         msg.Values["entity_id"],
		EntityName:       msg.Values["entity_name"],
		Title:            msg.Values["title"],
		Message:          msg.Values["message"],
		RelatedLink:      msg.Values["related_link"],
		Timestamp:        msg.Values["timestamp"],
		Retries:          retries,
	}
}

// RecoveryFailed builds the record written when PEL recovery of a stuck
// main-stream entry fails; the original message ID and error are preserved
// for the operator.
func RecoveryFailed(messageID, errMsg string, now time.Time) stream.Record {
	return stream.Record{
		"type":        TypeRecoveryFailed,
		"message_id":  messageID,
		"error":       errMsg,
		"timestamp":   strconv.FormatFloat(float64(now.UnixMilli())/1000.0, 'f', 3, 64),
		"dlq_retries": "0",
	}
}
