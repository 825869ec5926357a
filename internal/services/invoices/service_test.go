package invoices

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Loong0404/invoiceflow/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	getIn  string
	getOut *models.Invoice
	getErr error

	listIn  string
	listOut []*models.Invoice
	listErr error
}

func (f *fakeRepo) GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	f.getIn = invoiceID
	return f.getOut, f.getErr
}
func (f *fakeRepo) ListUserInvoices(ctx context.Context, userID string, limit, offset int) ([]*models.Invoice, error) {
	f.listIn = userID
	return f.listOut, f.listErr
}

type fakeCache struct {
	m map[string][]byte
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok := c.m[key]
	return b, ok, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.m[key] = value
	return nil
}
func (c *fakeCache) Del(ctx context.Context, key string) error {
	delete(c.m, key)
	return nil
}

func TestService_GetInvoice_Validate(t *testing.T) {
	s := New(&fakeRepo{}, nil, 0)
	_, err := s.GetInvoice(context.Background(), "")
	require.Error(t, err)
}

func TestService_GetInvoice_CacheHit(t *testing.T) {
	r := &fakeRepo{}
	c := &fakeCache{m: map[string][]byte{}}
	s := New(r, c, 10*time.Minute)

	want := &models.Invoice{InvoiceID: "inv-1", UserID: "u1", Status: models.InvoiceStatusPending}
	b, _ := json.Marshal(want)
	c.m["invoice:inv-1:current"] = b

	out, err := s.GetInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	require.Equal(t, "inv-1", out.InvoiceID)
	require.Empty(t, r.getIn) // БД не трогали
}

func TestService_GetInvoice_CacheMissGoesToDBAndSets(t *testing.T) {
	r := &fakeRepo{getOut: &models.Invoice{InvoiceID: "inv-2", UserID: "u1"}}
	c := &fakeCache{m: map[string][]byte{}}
	s := New(r, c, 10*time.Minute)

	out, err := s.GetInvoice(context.Background(), "inv-2")
	require.NoError(t, err)
	require.Equal(t, "inv-2", out.InvoiceID)
	require.Equal(t, "inv-2", r.getIn)

	_, ok := c.m["invoice:inv-2:current"]
	require.True(t, ok)
}

func TestService_GetInvoice_NotFoundNotCached(t *testing.T) {
	r := &fakeRepo{}
	c := &fakeCache{m: map[string][]byte{}}
	s := New(r, c, 10*time.Minute)

	out, err := s.GetInvoice(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, out)
	require.Empty(t, c.m)
}

func TestService_GetInvoice_DBError(t *testing.T) {
	want := errors.New("db error")
	s := New(&fakeRepo{getErr: want}, nil, 0)
	_, err := s.GetInvoice(context.Background(), "inv-1")
	require.ErrorIs(t, err, want)
}

func TestService_ListUserInvoices(t *testing.T) {
	r := &fakeRepo{listOut: []*models.Invoice{{InvoiceID: "inv-1"}}}
	s := New(r, nil, 0)

	_, err := s.ListUserInvoices(context.Background(), "", 10, 0)
	require.Error(t, err)

	out, err := s.ListUserInvoices(context.Background(), "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "u1", r.listIn)
}
