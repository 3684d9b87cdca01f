package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/engine"
	"github.com/brandon/mailsync/pkg/types"
)

// payload is the notification body posted for each newly inserted message.
type payload struct {
	AccountID   int64  `json:"account_id"`
	UserID      string `json:"user_id"`
	MessageID   int64  `json:"message_id"`
	Folder      string `json:"folder"`
	UID         uint32 `json:"uid"`
	SenderName  string `json:"sender_name"`
	SenderEmail string `json:"sender_email"`
	Subject     string `json:"subject"`
	Date        string `json:"date"`
}

// WebhookNotifier delivers new-message notifications by POSTing to a
// configured endpoint. Delivery failures are reported in the result,
// never as errors: notification is best-effort by design.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *logrus.Logger
}

// NewWebhookNotifier creates a notifier for the given endpoint.
func NewWebhookNotifier(url string, timeout time.Duration, logger *logrus.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Notify posts the message summary to the webhook endpoint.
func (n *WebhookNotifier) Notify(ctx context.Context, msg *types.Message, accountID int64, userID string) engine.NotifyResult {
	body, err := json.Marshal(payload{
		AccountID:   accountID,
		UserID:      userID,
		MessageID:   msg.ID,
		Folder:      msg.Folder,
		UID:         msg.UID,
		SenderName:  msg.SenderName,
		SenderEmail: msg.SenderEmail,
		Subject:     msg.Subject,
		Date:        msg.Date.Format(time.RFC3339),
	})
	if err != nil {
		return engine.NotifyResult{Delivered: false, Reason: fmt.Sprintf("encode payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return engine.NotifyResult{Delivered: false, Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return engine.NotifyResult{Delivered: false, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return engine.NotifyResult{Delivered: false, Reason: fmt.Sprintf("webhook returned %d", resp.StatusCode)}
	}

	return engine.NotifyResult{Delivered: true}
}

// LogNotifier is the fallback when no webhook is configured: it records
// the notification in the application log and reports it delivered.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the new message.
func (n *LogNotifier) Notify(_ context.Context, msg *types.Message, accountID int64, userID string) engine.NotifyResult {
	n.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"user_id":    userID,
		"folder":     msg.Folder,
		"uid":        msg.UID,
		"subject":    msg.Subject,
	}).Info("New message")
	return engine.NotifyResult{Delivered: true}
}

var _ engine.Notifier = (*WebhookNotifier)(nil)
var _ engine.Notifier = (*LogNotifier)(nil)
