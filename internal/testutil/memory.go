// Package testutil 提供测试用的内存版数据库、队列和对象存储
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/freedkr/bc3tree/internal/database"
	"github.com/freedkr/bc3tree/internal/model"
	"github.com/freedkr/bc3tree/internal/queue"
	"github.com/freedkr/bc3tree/internal/storage"
)

var (
	_ database.DatabaseInterface = (*MemDB)(nil)
	_ queue.Client               = (*MemQueue)(nil)
	_ storage.StorageInterface   = (*MemStorage)(nil)
)

// MemDB 内存实现的数据库，节点查询基于持久化记录
type MemDB struct {
	mu      sync.Mutex
	imports map[string]*database.ImportRecord
	nodes   map[string][]*database.TreeNodeRecord
	PingErr error
}

func NewMemDB() *MemDB {
	return &MemDB{imports: make(map[string]*database.ImportRecord), nodes: make(map[string][]*database.TreeNodeRecord)}
}

func (m *MemDB) CreateTables(ctx context.Context) error { return nil }

func (m *MemDB) CreateImport(ctx context.Context, rec *database.ImportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.imports[rec.ID] = &cp
	return nil
}

func (m *MemDB) GetImport(ctx context.Context, id string) (*database.ImportRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.imports[id]
	if !ok {
		return nil, model.NewNotFoundError("导入记录不存在: " + id)
	}
	cp := *rec
	return &cp, nil
}

func (m *MemDB) UpdateImport(ctx context.Context, rec *database.ImportRecord) error {
	return m.CreateImport(ctx, rec)
}

func (m *MemDB) ListImports(ctx context.Context, limit, offset int) ([]*database.ImportRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.ImportRecord
	for _, rec := range m.imports {
		out = append(out, rec)
	}
	return out, nil
}

func (m *MemDB) DeleteImport(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.imports, id)
	delete(m.nodes, id)
	return nil
}

func (m *MemDB) SaveTree(ctx context.Context, id string, tree *model.Tree) error {
	records, err := database.NodeRecordsFromTree(id, tree)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[id] = records
	return nil
}

func (m *MemDB) LoadTree(ctx context.Context, id string) (*model.Tree, error) {
	m.mu.Lock()
	records := m.nodes[id]
	m.mu.Unlock()
	if len(records) == 0 {
		return nil, model.NewNotFoundError("导入没有树节点: " + id)
	}
	return database.TreeFromRecords(records)
}

func (m *MemDB) filter(id string, keep func(*database.TreeNodeRecord) bool) []*database.TreeNodeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.TreeNodeRecord
	for _, rec := range m.nodes[id] {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (m *MemDB) GetNode(ctx context.Context, id, code string) (*database.TreeNodeRecord, error) {
	found := m.filter(id, func(r *database.TreeNodeRecord) bool { return r.Code == code })
	if len(found) == 0 {
		return nil, model.NewNotFoundError("节点不存在: " + code)
	}
	return found[0], nil
}

func (m *MemDB) GetRoots(ctx context.Context, id string) ([]*database.TreeNodeRecord, error) {
	return m.filter(id, func(r *database.TreeNodeRecord) bool { return r.ParentCode == "" }), nil
}

func (m *MemDB) GetChildrenByParentCode(ctx context.Context, id, parent string) ([]*database.TreeNodeRecord, error) {
	return m.filter(id, func(r *database.TreeNodeRecord) bool { return r.ParentCode == parent }), nil
}

func (m *MemDB) GetNodesByLevel(ctx context.Context, id string, level int) ([]*database.TreeNodeRecord, error) {
	return m.filter(id, func(r *database.TreeNodeRecord) bool { return r.Level == level }), nil
}

func (m *MemDB) GetNodesWithMeasurements(ctx context.Context, id string) ([]*database.TreeNodeRecord, error) {
	return m.filter(id, func(r *database.TreeNodeRecord) bool { return len(r.Measurements) > 0 }), nil
}

func (m *MemDB) Close() error                   { return nil }
func (m *MemDB) Ping(ctx context.Context) error { return m.PingErr }

// MemQueue 内存实现的任务队列
type MemQueue struct {
	mu      sync.Mutex
	tasks   map[string]*queue.Task
	pending []*queue.Task
	subs    map[string]chan *queue.Task
	PingErr error
}

func NewMemQueue() *MemQueue {
	return &MemQueue{tasks: make(map[string]*queue.Task), subs: make(map[string]chan *queue.Task)}
}

func (q *MemQueue) EnqueueTask(ctx context.Context, task *queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *task
	q.tasks[task.ID] = &cp
	q.pending = append(q.pending, &cp)
	return nil
}

func (q *MemQueue) DequeueTask(ctx context.Context, taskType string) (*queue.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	task := q.pending[0]
	q.pending = q.pending[1:]
	return task, nil
}

func (q *MemQueue) GetTaskStatus(ctx context.Context, id string) (*queue.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return nil, model.NewNotFoundError("任务不存在: " + id)
	}
	cp := *task
	return &cp, nil
}

func (q *MemQueue) UpdateTaskStatus(ctx context.Context, id, status, stage, errMsg string) error {
	q.mu.Lock()
	task, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return model.NewNotFoundError("任务不存在: " + id)
	}
	task.Status, task.Stage, task.Error = status, stage, errMsg
	cp := *task
	ch := q.subs[id]
	q.mu.Unlock()
	if ch != nil {
		ch <- &cp
	}
	return nil
}

func (q *MemQueue) UpdateTaskResult(ctx context.Context, id string, exports map[string]string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if task, ok := q.tasks[id]; ok {
		task.Exports = exports
	}
	return nil
}

func (q *MemQueue) Subscribe(ctx context.Context, id string) (<-chan *queue.Task, func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch := make(chan *queue.Task, 64)
	q.subs[id] = ch
	return ch, func() {}, nil
}

func (q *MemQueue) Subscribed(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.subs[id] != nil
}

func (q *MemQueue) Ping(ctx context.Context) error { return q.PingErr }
func (q *MemQueue) Close() error                   { return nil }

// MemStorage 内存实现的对象存储
type MemStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemStorage() *MemStorage {
	return &MemStorage{objects: make(map[string][]byte)}
}

func (s *MemStorage) EnsureBucket(ctx context.Context) error { return nil }

func (s *MemStorage) UploadFile(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return s.UploadBytes(ctx, name, data, contentType)
}

func (s *MemStorage) UploadBytes(ctx context.Context, name string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = append([]byte(nil), data...)
	return nil
}

func (s *MemStorage) DownloadFile(ctx context.Context, name string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[name]
	if !ok {
		return nil, fmt.Errorf("对象不存在: %s", name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemStorage) DeleteFile(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, name)
	return nil
}

func (s *MemStorage) GetFileInfo(ctx context.Context, name string) (*storage.FileInfo, error) {
	return nil, nil
}

func (s *MemStorage) GeneratePresignedURL(ctx context.Context, name string, expires time.Duration) (string, error) {
	return "http://minio.local/" + name, nil
}

func (s *MemStorage) ListFiles(ctx context.Context, prefix string) ([]*storage.FileInfo, error) {
	return nil, nil
}

func (s *MemStorage) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[name]
	return ok
}
