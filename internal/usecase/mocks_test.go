package usecase

import (
	"context"
	"sync"
	"time"

	"finetune-orchestrator/internal/domain"
	"finetune-orchestrator/internal/domain/model"
	"finetune-orchestrator/internal/domain/ports/adapter"
	"finetune-orchestrator/internal/domain/ports/repository"
)

// --- Repository mocks ---

type MockConfigRepo struct {
	FindByIDFunc  func(ctx context.Context, id string) (*model.PipelineConfig, error)
	SetStatusFunc func(ctx context.Context, id string, status model.ConfigStatus) error

	mu       sync.Mutex
	statuses []model.ConfigStatus
}

var _ repository.ConfigRepository = (*MockConfigRepo)(nil)

func (m *MockConfigRepo) FindByID(ctx context.Context, id string) (*model.PipelineConfig, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *MockConfigRepo) SetStatus(ctx context.Context, id string, status model.ConfigStatus) error {
	m.mu.Lock()
	m.statuses = append(m.statuses, status)
	m.mu.Unlock()
	if m.SetStatusFunc != nil {
		return m.SetStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *MockConfigRepo) Statuses() []model.ConfigStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ConfigStatus, len(m.statuses))
	copy(out, m.statuses)
	return out
}

type MockDatasetRepo struct {
	ListRecordsFunc func(ctx context.Context, datasetID string) ([]string, error)
}

var _ repository.DatasetRepository = (*MockDatasetRepo)(nil)

func (m *MockDatasetRepo) ListRecords(ctx context.Context, datasetID string) ([]string, error) {
	if m.ListRecordsFunc != nil {
		return m.ListRecordsFunc(ctx, datasetID)
	}
	return nil, domain.ErrNotFound
}

// MemStatusRepo is an in-memory TaskStatusRepository that records every
// update, so tests can assert on the exact transition sequence.
type MemStatusRepo struct {
	UpdateErr error

	mu      sync.Mutex
	current map[string]*model.TaskStatus
	updates []model.TaskStatusUpdate
}

var _ repository.TaskStatusRepository = (*MemStatusRepo)(nil)

func NewMemStatusRepo() *MemStatusRepo {
	return &MemStatusRepo{current: make(map[string]*model.TaskStatus)}
}

func (m *MemStatusRepo) Create(_ context.Context, taskID, configID string) (*model.TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &model.TaskStatus{
		TaskID:      taskID,
		ConfigID:    configID,
		Status:      model.StagePreparing,
		CurrentStep: "Preparing",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	m.current[taskID] = st
	return st, nil
}

func (m *MemStatusRepo) Update(_ context.Context, taskID string, upd model.TaskStatusUpdate) (*model.TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}
	st, ok := m.current[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	st.Status = upd.Status
	if upd.CurrentStep != nil {
		st.CurrentStep = *upd.CurrentStep
	}
	if upd.Progress != nil {
		st.Progress = *upd.Progress
	}
	if upd.Error != nil {
		st.Error = *upd.Error
	}
	if upd.Metrics != nil {
		st.Metrics = upd.Metrics
	}
	if upd.Result != nil {
		st.Result = upd.Result
	}
	st.UpdatedAt = time.Now()
	m.updates = append(m.updates, upd)
	return st, nil
}

func (m *MemStatusRepo) FindLatestByConfig(_ context.Context, configID string) (*model.TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.TaskStatus
	for _, st := range m.current {
		if st.ConfigID != configID {
			continue
		}
		if latest == nil || st.CreatedAt.After(latest.CreatedAt) {
			latest = st
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *MemStatusRepo) Updates() []model.TaskStatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.TaskStatusUpdate, len(m.updates))
	copy(out, m.updates)
	return out
}

// Stages returns the distinct stage sequence of the recorded updates, with
// consecutive repeats collapsed.
func (m *MemStatusRepo) Stages() []model.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Stage
	for _, u := range m.updates {
		if len(out) == 0 || out[len(out)-1] != u.Status {
			out = append(out, u.Status)
		}
	}
	return out
}

// --- Adapter mocks ---

type MockRegistry struct {
	LoginFunc               func(ctx context.Context, token string) (*model.ProcessResult, error)
	ResolveWorkingModelFunc func(ctx context.Context, requested string) (string, error)
	TestCompatibilityFunc   func(ctx context.Context, modelID string) bool
}

var _ adapter.ModelRegistryAdapter = (*MockRegistry)(nil)

func (m *MockRegistry) Login(ctx context.Context, token string) (*model.ProcessResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, token)
	}
	return &model.ProcessResult{ExitCode: 0}, nil
}

func (m *MockRegistry) ResolveWorkingModel(ctx context.Context, requested string) (string, error) {
	if m.ResolveWorkingModelFunc != nil {
		return m.ResolveWorkingModelFunc(ctx, requested)
	}
	return requested, nil
}

func (m *MockRegistry) TestCompatibility(ctx context.Context, modelID string) bool {
	if m.TestCompatibilityFunc != nil {
		return m.TestCompatibilityFunc(ctx, modelID)
	}
	return true
}

type MockTrainer struct {
	FineTuneFunc func(ctx context.Context, spec adapter.TrainingSpec, onProgress adapter.ProgressFunc) (*model.ProcessResult, error)

	mu    sync.Mutex
	specs []adapter.TrainingSpec
}

var _ adapter.TrainerAdapter = (*MockTrainer)(nil)

func (m *MockTrainer) FineTune(ctx context.Context, spec adapter.TrainingSpec, onProgress adapter.ProgressFunc) (*model.ProcessResult, error) {
	m.mu.Lock()
	m.specs = append(m.specs, spec)
	m.mu.Unlock()
	if m.FineTuneFunc != nil {
		return m.FineTuneFunc(ctx, spec, onProgress)
	}
	return &model.ProcessResult{ExitCode: 0}, nil
}

func (m *MockTrainer) Specs() []adapter.TrainingSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]adapter.TrainingSpec, len(m.specs))
	copy(out, m.specs)
	return out
}

type MockPackager struct {
	CreateModelFunc func(ctx context.Context, spec adapter.PackageSpec) (*model.ProcessResult, string, error)
}

var _ adapter.ModelPackagerAdapter = (*MockPackager)(nil)

func (m *MockPackager) CreateModel(ctx context.Context, spec adapter.PackageSpec) (*model.ProcessResult, string, error) {
	if m.CreateModelFunc != nil {
		return m.CreateModelFunc(ctx, spec)
	}
	return &model.ProcessResult{ExitCode: 0}, "adapter", nil
}

// --- Concurrency mocks ---

type MockLocker struct {
	TryLockFunc func(ctx context.Context, key string, ttl time.Duration) (string, error)
	UnlockFunc  func(ctx context.Context, key, token string) error
}

var _ Locker = (*MockLocker)(nil)

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.TryLockFunc != nil {
		return m.TryLockFunc(ctx, key, ttl)
	}
	return "token", nil
}

func (m *MockLocker) Unlock(ctx context.Context, key, token string) error {
	if m.UnlockFunc != nil {
		return m.UnlockFunc(ctx, key, token)
	}
	return nil
}

// SyncSubmitter runs submitted tasks inline, so Launch-driven tests finish
// deterministically.
type SyncSubmitter struct {
	SubmitErr error
}

var _ Submitter = (*SyncSubmitter)(nil)

func (s *SyncSubmitter) Submit(task func(ctx context.Context) error) error {
	if s.SubmitErr != nil {
		return s.SubmitErr
	}
	_ = task(context.Background())
	return nil
}
