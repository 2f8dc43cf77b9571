package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"credential_verifier/internal/messaging"
	"credential_verifier/internal/model"
	"credential_verifier/internal/repository"
	"credential_verifier/internal/storage"
)

// memoryVerificationRepository ведет себя как условный UPDATE в PostgreSQL
type memoryVerificationRepository struct {
	mu      sync.Mutex
	records map[int64]model.Verification
	nextID  int64

	failIDs    map[int64]error
	updateFunc func(ctx context.Context, v *model.Verification, expected model.Status) error
	listErr    error
	updates    int
}

func newMemoryRepository(records ...model.Verification) *memoryVerificationRepository {
	repo := &memoryVerificationRepository{records: make(map[int64]model.Verification)}
	for _, r := range records {
		repo.records[r.ID] = r
		if r.ID > repo.nextID {
			repo.nextID = r.ID
		}
	}
	return repo
}

func (m *memoryVerificationRepository) Create(ctx context.Context, v *model.Verification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	v.ID = m.nextID
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	m.records[v.ID] = *v
	return nil
}

func (m *memoryVerificationRepository) GetByID(ctx context.Context, id int64) (*model.Verification, error) {
	if err := m.failIDs[id]; err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *memoryVerificationRepository) GetAll(ctx context.Context, filter model.StatusFilter, limit *int32, offset *int32) ([]*model.Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, filtered := filter.Status()
	var out []*model.Verification
	for _, v := range m.records {
		if filtered && v.Status != status {
			continue
		}
		copied := v
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memoryVerificationRepository) ListIDsByStatus(ctx context.Context, status model.Status) ([]int64, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, v := range m.records {
		if v.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memoryVerificationRepository) Update(ctx context.Context, v *model.Verification, expected model.Status) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, v, expected)
	}
	return m.apply(v, expected)
}

// apply - условное обновление без перехвата через updateFunc
func (m *memoryVerificationRepository) apply(v *model.Verification, expected model.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.records[v.ID]
	if !ok || current.Status != expected {
		return fmt.Errorf("verification %d: %w", v.ID, repository.ErrConcurrentUpdate)
	}
	m.updates++
	m.records[v.ID] = *v
	return nil
}

func (m *memoryVerificationRepository) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.Status]int)
	for _, v := range m.records {
		counts[v.Status]++
	}
	return counts, nil
}

func (m *memoryVerificationRepository) get(id int64) model.Verification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

// Mock для UserRepository
type mockUserRepository struct {
	users     map[string]*model.User
	getErr    error
	updateErr error
}

func newUserRepository(users ...*model.User) *mockUserRepository {
	repo := &mockUserRepository{users: make(map[string]*model.User)}
	for _, u := range users {
		repo.users[u.UUID] = u
	}
	return repo
}

func (m *mockUserRepository) GetByUUID(ctx context.Context, uuid string) (*model.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.users[uuid]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (m *mockUserRepository) UpdateVerificationFlags(ctx context.Context, user *model.User) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	copied := *user
	m.users[user.UUID] = &copied
	return nil
}

// Mock для DiplomaStore
type mockStore struct {
	saveErr error
	deleted []string
}

func (m *mockStore) Save(ctx context.Context, originalName string, r io.Reader) (*storage.StoredFile, error) {
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	return &storage.StoredFile{
		Filename:     "stored.txt",
		OriginalName: originalName,
		Path:         "/uploads/stored.txt",
		MimeType:     "text/plain",
	}, nil
}

func (m *mockStore) Path(filename string) (string, error) { return "/uploads/" + filename, nil }
func (m *mockStore) PublicURL(filename string) string     { return "/uploads/diplomas/" + filename }

func (m *mockStore) Delete(filename string) error {
	m.deleted = append(m.deleted, filename)
	return nil
}

// Mock для Extractor
type mockExtractor struct {
	extractFunc func(ctx context.Context, path string) *model.ExtractionResult
	calls       int
}

func (m *mockExtractor) Extract(ctx context.Context, path string) *model.ExtractionResult {
	m.calls++
	return m.extractFunc(ctx, path)
}

// Mock для Notifier
type mockNotifier struct {
	result     bool
	approvals  []int64
	rejections map[int64]string
}

func newNotifier(result bool) *mockNotifier {
	return &mockNotifier{result: result, rejections: make(map[int64]string)}
}

func (m *mockNotifier) SendApprovalEmail(ctx context.Context, v *model.Verification) bool {
	m.approvals = append(m.approvals, v.ID)
	return m.result
}

func (m *mockNotifier) SendRejectionEmail(ctx context.Context, v *model.Verification, reason string) bool {
	m.rejections[v.ID] = reason
	return m.result
}

// Mock для EventPublisher
type mockEvents struct {
	published []messaging.StatusChangedMessage
	err       error
}

func (m *mockEvents) PublishStatusChanged(ctx context.Context, msg messaging.StatusChangedMessage) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, msg)
	return nil
}

// Mock для ProcessQueue
type mockQueue struct {
	requested []int64
	err       error
}

func (m *mockQueue) PublishProcessRequest(ctx context.Context, verificationID int64, requestedBy string) error {
	if m.err != nil {
		return m.err
	}
	m.requested = append(m.requested, verificationID)
	return nil
}

// Mock для Locker
type mockLocker struct {
	acquireFunc func(ctx context.Context, key string, ttl time.Duration) (func(), error)
	released    int
}

func (m *mockLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if m.acquireFunc != nil {
		return m.acquireFunc(ctx, key, ttl)
	}
	return func() { m.released++ }, nil
}

// Mock для Metrics
type mockMetrics struct {
	transitions []string
	batch       []string
}

func (m *mockMetrics) ObserveTransition(from, to string) {
	m.transitions = append(m.transitions, from+"->"+to)
}

func (m *mockMetrics) ObserveBatchItem(outcome string) {
	m.batch = append(m.batch, outcome)
}
