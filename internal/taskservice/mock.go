package taskservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/BTreeMap/AskForHelp/internal/models"
)

// Mock is an in-memory Service for tests. Err, when set, is returned by every call.
type Mock struct {
	mu sync.Mutex

	Tasks        map[string]models.Task
	Profiles     map[string]models.UserProfile
	Created      []models.Task
	Transactions []models.TaskTransaction
	Err          error

	nextID int
}

var _ Service = (*Mock)(nil)

// NewMock creates an empty Mock.
func NewMock() *Mock {
	return &Mock{
		Tasks:    make(map[string]models.Task),
		Profiles: make(map[string]models.UserProfile),
	}
}

func (m *Mock) CreateTask(_ context.Context, task models.Task) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return models.Task{}, m.Err
	}
	m.nextID++
	task.ID = fmt.Sprintf("task-%d", m.nextID)
	m.Created = append(m.Created, task)
	m.Tasks[task.ID] = task
	return task, nil
}

func (m *Mock) CreateTaskTransaction(_ context.Context, tr models.TaskTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Transactions = append(m.Transactions, tr)
	return nil
}

func (m *Mock) GetTask(_ context.Context, taskID string) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return models.Task{}, m.Err
	}
	t, ok := m.Tasks[taskID]
	if !ok {
		return models.Task{}, &APIError{Op: "GetTask", StatusCode: 404, Body: "task not found"}
	}
	return t, nil
}

func (m *Mock) GetUserProfile(_ context.Context, userID string) (models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return models.UserProfile{}, m.Err
	}
	p, ok := m.Profiles[userID]
	if !ok {
		return models.UserProfile{}, &APIError{Op: "GetUserProfile", StatusCode: 404, Body: "profile not found"}
	}
	return p, nil
}

func (m *Mock) GetAllTasksOfApplication(_ context.Context, appID string) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []models.Task
	for _, t := range m.Tasks {
		if t.AppID == appID {
			out = append(out, t)
		}
	}
	return out, nil
}

// LastTransaction returns the most recent recorded transaction.
func (m *Mock) LastTransaction() (models.TaskTransaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Transactions) == 0 {
		return models.TaskTransaction{}, false
	}
	return m.Transactions[len(m.Transactions)-1], true
}
