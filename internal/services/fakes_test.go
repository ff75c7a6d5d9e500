package services_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/lostradar/lostradar/internal/faults"
	"github.com/lostradar/lostradar/internal/models"
)

// In-memory fakes for the coordinator capability interfaces.

type fakeObjects struct {
	mu        sync.Mutex
	putErr    error
	existsErr error
	stored    map[string][]byte
	deleted   []string
	puts      int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{stored: map[string][]byte{}}
}

func (f *fakeObjects) Put(_ context.Context, reader io.Reader, filename, _ string, _ int64) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.putErr != nil {
		return "", "", f.putErr
	}
	key := fmt.Sprintf("items/%d-%s", f.puts, filename)
	data, _ := io.ReadAll(reader)
	f.stored[key] = data
	return key, "http://minio.local/bucket/" + key, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stored, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeObjects) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.stored[key]
	return ok, nil
}

func (f *fakeObjects) KeyFromURL(imageURL string) string {
	return strings.TrimPrefix(imageURL, "http://minio.local/bucket/")
}

func (f *fakeObjects) deletedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeObjects) storedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

type fakeEmbedder struct {
	dim        int
	vector     []float32
	imageErr   error
	textErr    error
	imageCalls int
	textCalls  int
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	vector := make([]float32, dim)
	for i := range vector {
		vector[i] = float32(i)
	}
	return &fakeEmbedder{dim: dim, vector: vector}
}

func (f *fakeEmbedder) EmbedImage(_ context.Context, data []byte) ([]float32, error) {
	f.imageCalls++
	if len(data) == 0 {
		return nil, faults.Tagf(faults.ErrValidation, "image bytes are empty")
	}
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	return f.vector, nil
}

func (f *fakeEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	f.textCalls++
	if f.textErr != nil {
		return nil, f.textErr
	}
	return f.vector, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

type insertCall struct {
	item   *models.Item
	vector []float32
}

type fakeIndex struct {
	mu         sync.Mutex
	insertErr  error
	searchErr  error
	deleteErr  error
	fetchItem  *models.Item
	fetchErr   error
	hits       []models.SearchHit
	inserts    []insertCall
	deleted    []string
	lastLimit  int
	lastThresh float32
	searches   int
}

func (f *fakeIndex) Insert(_ context.Context, item *models.Item, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserts = append(f.inserts, insertCall{item: item, vector: vector})
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, limit int, threshold float32) ([]models.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	f.lastLimit = limit
	f.lastThresh = threshold
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return append([]models.SearchHit(nil), f.hits...), nil
}

func (f *fakeIndex) Fetch(_ context.Context, itemID string) (*models.Item, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.fetchItem == nil {
		return nil, faults.Tagf(faults.ErrNotFound, "item %s not indexed", itemID)
	}
	return f.fetchItem, nil
}

func (f *fakeIndex) Delete(_ context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, itemID)
	return nil
}

type fakeMetadata struct {
	mu        sync.Mutex
	rows      map[string]*models.Item
	upsertErr error
	fetchErr  error
	deleteErr error
	deleted   []string
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{rows: map[string]*models.Item{}}
}

func (f *fakeMetadata) Upsert(_ context.Context, item *models.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.rows[item.ID] = item
	return nil
}

func (f *fakeMetadata) Get(_ context.Context, id string) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.rows[id]
	if !ok {
		return nil, faults.Tagf(faults.ErrNotFound, "item %s", id)
	}
	return item, nil
}

func (f *fakeMetadata) FetchByIDs(_ context.Context, ids []string) ([]*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var items []*models.Item
	for _, id := range ids {
		if item, ok := f.rows[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeMetadata) DeleteByID(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.rows, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeMetadata) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// inlineRunner executes tasks synchronously so tests observe the
// asynchronous phase deterministically.
type inlineRunner struct{}

func (inlineRunner) Submit(_ string, task func(ctx context.Context)) {
	task(context.Background())
}

type fakeEvents struct {
	mu      sync.Mutex
	indexed []string
	deleted []string
}

func (f *fakeEvents) ItemIndexed(_ context.Context, item *models.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, item.ID)
}

func (f *fakeEvents) ItemDeleted(_ context.Context, itemID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, itemID)
}
