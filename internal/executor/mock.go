package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockExecutor is a TransferExecutor for tests and offline runs. Outcomes are
// injectable; every call is recorded.
type MockExecutor struct {
	mu    sync.Mutex
	calls []TransferRequest
	seq   int

	// FailKind, when set, makes non-simulated calls fail with that
	// classification.
	FailKind    string
	FailMessage string
	// BlockNumber reported on successful non-simulated transfers.
	BlockNumber int64
}

var _ TransferExecutor = (*MockExecutor)(nil)

func NewMockExecutor() *MockExecutor {
	return &MockExecutor{BlockNumber: 1}
}

func (m *MockExecutor) Execute(_ context.Context, req TransferRequest) (*TransferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	m.seq++

	if req.Simulate {
		return &TransferResult{
			Success:   true,
			TxId:      "sim-" + uuid.New().String(),
			Simulated: true,
		}, nil
	}

	if m.FailKind != "" {
		msg := m.FailMessage
		if msg == "" {
			msg = "injected transfer failure"
		}
		return &TransferResult{
			Success:   false,
			ErrorKind: m.FailKind,
			Message:   msg,
			Ambiguous: m.FailKind == ErrorKindTimeout,
		}, nil
	}

	block := m.BlockNumber
	return &TransferResult{
		Success:     true,
		TxId:        fmt.Sprintf("mock-tx-%d", m.seq),
		BlockNumber: &block,
		GasUsed:     "52000",
	}, nil
}

func (m *MockExecutor) Close() {}

// Calls returns a copy of every request the executor has seen.
func (m *MockExecutor) Calls() []TransferRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransferRequest, len(m.calls))
	copy(out, m.calls)
	return out
}
