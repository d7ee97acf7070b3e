package amqp

import (
	"encoding/json"
	"time"

	"wellbooks/internal/core"
)

// Routing keys on the ledger exchange. Each message type is published with its
// own key so consumers bind only what they handle.
const (
	RoutingAccountCreated      = "account.created"
	RoutingTransactionRecorded = "transaction.recorded"
	RoutingSnapshotsGenerated  = "snapshots.generated"
)

// AllRoutingKeys is what a queue binds to when no keys are given.
var AllRoutingKeys = []string{RoutingAccountCreated, RoutingTransactionRecorded, RoutingSnapshotsGenerated}

// AccountCreatedMessage announces a new account. Consumers fetch the full
// record from the database.
type AccountCreatedMessage struct {
	AccountID string    `json:"account_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Timestamp time.Time `json:"timestamp"`
}

// TransactionRecordedMessage announces a ledger entry and how many snapshots
// it invalidated.
type TransactionRecordedMessage struct {
	TransactionID string    `json:"transaction_id"`
	AccountID     string    `json:"account_id"`
	Amount        string    `json:"amount"`
	EventTime     time.Time `json:"event_time"`
	Invalidated   int       `json:"invalidated"`
	Timestamp     time.Time `json:"timestamp"`
}

// SnapshotsGeneratedMessage is sent after each generator run.
type SnapshotsGeneratedMessage struct {
	SnapshotDate core.Date `json:"snapshot_date"`
	Created      int       `json:"created"`
	Existing     int       `json:"existing"`
	Failed       int       `json:"failed"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewAccountCreatedMessage(a core.Account) *AccountCreatedMessage {
	return &AccountCreatedMessage{
		AccountID: a.ID,
		Name:      a.Name,
		CreatedAt: a.CreatedAt,
		Timestamp: time.Now(),
	}
}

func NewTransactionRecordedMessage(tx core.Transaction, invalidated int) *TransactionRecordedMessage {
	return &TransactionRecordedMessage{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Amount:        core.FormatAmount(tx.Amount),
		EventTime:     tx.Timestamp,
		Invalidated:   invalidated,
		Timestamp:     time.Now(),
	}
}

func NewSnapshotsGeneratedMessage(date core.Date, created, existing, failed int) *SnapshotsGeneratedMessage {
	return &SnapshotsGeneratedMessage{
		SnapshotDate: date,
		Created:      created,
		Existing:     existing,
		Failed:       failed,
		Timestamp:    time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *AccountCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func (m *TransactionRecordedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func (m *SnapshotsGeneratedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SnapshotsGeneratedMessageFromJSON creates a message from JSON bytes
func SnapshotsGeneratedMessageFromJSON(data []byte) (*SnapshotsGeneratedMessage, error) {
	var msg SnapshotsGeneratedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func TransactionRecordedMessageFromJSON(data []byte) (*TransactionRecordedMessage, error) {
	var msg TransactionRecordedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
