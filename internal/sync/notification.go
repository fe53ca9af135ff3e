package sync

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// PushEnvelope is the Pub/Sub push request body delivered to the webhook.
type PushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// notificationPayload is the Gmail notification carried base64-encoded in
// the envelope data.
type notificationPayload struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// decodeNotification unpacks the base64 JSON payload of a push message.
func decodeNotification(data string) (*notificationPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	var payload notificationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("not a JSON payload: %w", err)
	}
	return &payload, nil
}
