package invoicer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Loong0404/invoiceflow/internal/broker/messages"
	"github.com/Loong0404/invoiceflow/internal/models"
	"github.com/Loong0404/invoiceflow/internal/storage/pginvoicing"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu      sync.Mutex
	calls   int
	lastIn  pginvoicing.MaterializeInput
	byTrack map[string]*models.Invoice
	err     error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byTrack: map[string]*models.Invoice{}}
}

func (f *fakeRepo) MaterializeInvoice(ctx context.Context, in pginvoicing.MaterializeInput) (*models.Invoice, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastIn = in
	if f.err != nil {
		return nil, false, f.err
	}
	if inv, ok := f.byTrack[in.TrackID]; ok {
		return inv, false, nil
	}
	inv := &models.Invoice{
		InvoiceID:   fmt.Sprintf("inv-%d", f.calls),
		TrackID:     in.TrackID,
		UserID:      in.UserID,
		BookingID:   in.BookingID,
		PlateNumber: in.PlateNumber,
		Amount:      models.InvoiceAmount,
		Status:      models.InvoiceStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	f.byTrack[in.TrackID] = inv
	return inv, true, nil
}

type fakeCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.m[key]
	return b, ok, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}
func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

func readyDoc() models.Doc {
	return models.Doc{
		"status":      "Ready for Collection",
		"uid":         "u1",
		"BookingID":   "B1",
		"plateNumber": "P1",
	}
}

func TestHandleWrite_DeleteShortCircuit(t *testing.T) {
	r := newFakeRepo()
	s := New(r, nil, 0)

	err := s.HandleWrite(context.Background(), messages.TrackingWritten{
		TrackID: "t1",
		Before:  readyDoc(),
		After:   nil,
	})
	require.NoError(t, err)
	require.Zero(t, r.calls)
}

func TestProcess_NonReadyStatusesSkip(t *testing.T) {
	r := newFakeRepo()
	s := New(r, nil, 0)

	for _, status := range []string{"", "pending", "in service", "ready for pickup"} {
		doc := readyDoc()
		doc["status"] = status
		require.NoError(t, s.Process(context.Background(), "t1", doc))
	}
	require.Zero(t, r.calls)
}

func TestProcess_StatusCaseInsensitive(t *testing.T) {
	for i, status := range []string{"Ready for Collection", "READY FOR COLLECTION", "ready for collection"} {
		r := newFakeRepo()
		s := New(r, nil, 0)

		doc := readyDoc()
		doc["status"] = status
		trackID := fmt.Sprintf("t%d", i)
		require.NoError(t, s.Process(context.Background(), trackID, doc))
		require.Equal(t, 1, r.calls)
		require.Equal(t, trackID, r.lastIn.TrackID)
	}
}

func TestProcess_AlreadyLinkedSnapshotSkips(t *testing.T) {
	r := newFakeRepo()
	s := New(r, nil, 0)

	doc := readyDoc()
	doc["invoiceID"] = "inv-existing"
	require.NoError(t, s.Process(context.Background(), "t1", doc))
	require.Zero(t, r.calls)
}

func TestProcess_FieldFallbacks(t *testing.T) {
	r := newFakeRepo()
	s := New(r, nil, 0)

	doc := models.Doc{
		"status":      "ready for collection",
		"UserID":      "u-legacy",
		"bookingID":   "B-lower",
		"plateNumber": "P1",
	}
	require.NoError(t, s.Process(context.Background(), "t1", doc))
	require.Equal(t, 1, r.calls)
	require.Equal(t, "u-legacy", r.lastIn.UserID)
	require.Equal(t, "B-lower", r.lastIn.BookingID)

	// Основное имя имеет приоритет над запасным.
	r2 := newFakeRepo()
	s2 := New(r2, nil, 0)
	doc2 := readyDoc()
	doc2["UserID"] = "u-legacy"
	doc2["bookingID"] = "B-lower"
	require.NoError(t, s2.Process(context.Background(), "t2", doc2))
	require.Equal(t, "u1", r2.lastIn.UserID)
	require.Equal(t, "B1", r2.lastIn.BookingID)
}

func TestProcess_MissingFieldsIsTerminalNoWrites(t *testing.T) {
	r := newFakeRepo()
	s := New(r, nil, 0)

	doc := readyDoc()
	delete(doc, "plateNumber")
	require.NoError(t, s.Process(context.Background(), "t1", doc))
	require.Zero(t, r.calls)
	require.Equal(t, int64(1), s.Stats().ValidationFailures)

	// Совсем без идентификаторов — тоже валидационный отказ, а не ошибка.
	require.NoError(t, s.Process(context.Background(), "t2", models.Doc{"status": "ready for collection"}))
	require.Zero(t, r.calls)
	require.Equal(t, int64(2), s.Stats().ValidationFailures)
}

func TestProcess_CreatesOnceAndWarmsCache(t *testing.T) {
	r := newFakeRepo()
	c := &fakeCache{m: map[string][]byte{}}
	s := New(r, c, 10*time.Minute)

	require.NoError(t, s.Process(context.Background(), "t1", readyDoc()))
	require.Equal(t, 1, r.calls)
	require.Equal(t, "u1", r.lastIn.UserID)
	require.Equal(t, "B1", r.lastIn.BookingID)
	require.Equal(t, "P1", r.lastIn.PlateNumber)

	inv := r.byTrack["t1"]
	_, ok := c.m[invoiceKey(inv.InvoiceID)]
	require.True(t, ok)

	// Повторная доставка того же события — no-op.
	require.NoError(t, s.Process(context.Background(), "t1", readyDoc()))
	require.Len(t, r.byTrack, 1)

	st := s.Stats()
	require.Equal(t, int64(1), st.InvoicesCreated)
	require.Equal(t, int64(1), st.DuplicatesSkipped)
}

func TestProcess_ConcurrentDuplicateDeliveries_AtMostOnce(t *testing.T) {
	r := newFakeRepo()
	s := New(r, nil, 0)

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Process(context.Background(), "t1", readyDoc())
		}()
	}
	wg.Wait()

	require.Len(t, r.byTrack, 1)
	st := s.Stats()
	require.Equal(t, int64(1), st.InvoicesCreated)
	require.Equal(t, int64(n-1), st.DuplicatesSkipped)
}

func TestProcess_RepoErrorPropagates(t *testing.T) {
	r := newFakeRepo()
	r.err = errors.New("tx aborted")
	s := New(r, nil, 0)

	err := s.Process(context.Background(), "t1", readyDoc())
	require.ErrorIs(t, err, r.err)
	require.Contains(t, s.Stats().LastError, "tx aborted")
}
