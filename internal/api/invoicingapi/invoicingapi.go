package invoicingapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Loong0404/invoiceflow/internal/models"
	"github.com/go-chi/chi/v5"
)

type TrackingsService interface {
	ApplyWrite(ctx context.Context, trackID string, doc models.Doc) (models.Doc, error)
	Delete(ctx context.Context, trackID string) error
	Get(ctx context.Context, trackID string) (*models.Tracking, error)
}

type InvoicesService interface {
	GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error)
	ListUserInvoices(ctx context.Context, userID string, limit, offset int) ([]*models.Invoice, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type API struct {
	trackings TrackingsService
	invoices  InvoicesService

	rl                  RateLimiter
	writeLimitPerMinute int64
}

func New(trackings TrackingsService, invoices InvoicesService, rl RateLimiter, writeLimitPerMinute int64) *API {
	return &API{
		trackings:           trackings,
		invoices:            invoices,
		rl:                  rl,
		writeLimitPerMinute: writeLimitPerMinute,
	}
}

func (a *API) Register(r chi.Router) {
	r.Route("/trackings/{trackID}", func(r chi.Router) {
		r.With(a.writeRateLimit).Put("/", a.putTracking)
		r.With(a.writeRateLimit).Delete("/", a.deleteTracking)
		r.Get("/", a.getTracking)
	})
	r.Get("/invoices/{invoiceID}", a.getInvoice)
	r.Get("/users/{userID}/invoices", a.listUserInvoices)
}

// writeRateLimit душит путь записи по клиенту (ключ — IP, окно — минута).
func (a *API) writeRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.rl == nil || a.writeLimitPerMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		key := fmt.Sprintf("rl:write:%s:%s", host, time.Now().UTC().Format("200601021504"))
		allowed, _, err := a.rl.Allow(r.Context(), key, a.writeLimitPerMinute, 70*time.Second)
		if err == nil && !allowed {
			writeError(w, http.StatusTooManyRequests, "write rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) putTracking(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "trackID")

	var doc models.Doc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	after, err := a.trackings.ApplyWrite(r.Context(), trackID, doc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trackID": trackID, "doc": after})
}

func (a *API) deleteTracking(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "trackID")
	if err := a.trackings.Delete(r.Context(), trackID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trackID": trackID, "deleted": true})
}

func (a *API) getTracking(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "trackID")
	t, err := a.trackings.Get(r.Context(), trackID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "tracking not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trackID": t.TrackID, "doc": t.Snapshot()})
}

func (a *API) getInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "invoiceID")
	inv, err := a.invoices.GetInvoice(r.Context(), invoiceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if inv == nil {
		writeError(w, http.StatusNotFound, "invoice not found")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) listUserInvoices(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	out, err := a.invoices.ListUserInvoices(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if out == nil {
		out = []*models.Invoice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": out})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
