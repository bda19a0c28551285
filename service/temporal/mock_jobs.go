package temporal

import (
	"context"
	"fmt"
	"sync"
)

// MockJobClient is an in-memory JobClient for tests.
type MockJobClient struct {
	mu       sync.Mutex
	jobs     map[string]*IndexJobStatus
	inputs   map[string]IndexJobInput
	startErr error
	getErr   error
}

// NewMockJobClient creates a new MockJobClient.
func NewMockJobClient() *MockJobClient {
	return &MockJobClient{
		jobs:   make(map[string]*IndexJobStatus),
		inputs: make(map[string]IndexJobInput),
	}
}

// StartIndexJob records the job as running.
func (m *MockJobClient) StartIndexJob(ctx context.Context, input IndexJobInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return "", m.startErr
	}
	id := JobID(input)
	if _, exists := m.jobs[id]; !exists {
		m.jobs[id] = &IndexJobStatus{WorkflowID: id, Status: JobStatusRunning}
	}
	m.inputs[id] = input
	return id, nil
}

// GetIndexJob returns the recorded status.
func (m *MockJobClient) GetIndexJob(ctx context.Context, workflowID string) (*IndexJobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	status, ok := m.jobs[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, workflowID)
	}
	cp := *status
	return &cp, nil
}

// Complete marks a job as completed with result.
func (m *MockJobClient) Complete(workflowID string, result *IndexJobResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[workflowID] = &IndexJobStatus{
		WorkflowID: workflowID,
		Status:     JobStatusCompleted,
		Result:     result,
	}
}

// Input returns the input a job was started with.
func (m *MockJobClient) Input(workflowID string) (IndexJobInput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	input, ok := m.inputs[workflowID]
	return input, ok
}

// SetStartError configures StartIndexJob to fail.
func (m *MockJobClient) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// SetGetError configures GetIndexJob to fail.
func (m *MockJobClient) SetGetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}
