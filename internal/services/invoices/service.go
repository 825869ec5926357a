package invoices

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Loong0404/invoiceflow/internal/cache"
	"github.com/Loong0404/invoiceflow/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error)
	ListUserInvoices(ctx context.Context, userID string, limit, offset int) ([]*models.Invoice, error)
}

// Service — путь чтения счетов. Счета неизменяемы после создания, поэтому
// кэшируем "текущий счёт" целиком как JSON, лучшее усилие (кэш не обязан быть).
type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, currentTTL: currentTTL}
}

func (s *Service) GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	if invoiceID == "" {
		return nil, errors.New("invoiceID is required")
	}

	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, invoiceKey(invoiceID)); err == nil && ok {
			var inv models.Invoice
			if json.Unmarshal(b, &inv) == nil {
				return &inv, nil
			}
		}
	}

	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv != nil && s.cache != nil && s.currentTTL > 0 {
		b, _ := json.Marshal(inv)
		_ = s.cache.Set(ctx, invoiceKey(invoiceID), b, s.currentTTL)
	}
	return inv, nil
}

func (s *Service) ListUserInvoices(ctx context.Context, userID string, limit, offset int) ([]*models.Invoice, error) {
	if userID == "" {
		return nil, errors.New("userID is required")
	}
	return s.repo.ListUserInvoices(ctx, userID, limit, offset)
}

// Формат ключа совпадает с тем, каким материализатор прогревает кэш.
func invoiceKey(invoiceID string) string {
	return fmt.Sprintf("invoice:%s:current", invoiceID)
}
