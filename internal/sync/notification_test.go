package sync

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNotification(t *testing.T) {
	data := base64.StdEncoding.EncodeToString(
		[]byte(`{"emailAddress":"me@example.com","historyId":48123}`))

	payload, err := decodeNotification(data)
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", payload.EmailAddress)
	assert.Equal(t, uint64(48123), payload.HistoryID)
}

func TestDecodeNotificationErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not base64", "%%%"},
		{"not json", base64.StdEncoding.EncodeToString([]byte("hello"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeNotification(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestLedgerMarkSeen(t *testing.T) {
	ledger := NewLedger()

	assert.True(t, ledger.MarkSeen("a"))
	assert.False(t, ledger.MarkSeen("a"))
	assert.True(t, ledger.MarkSeen("b"))
}
