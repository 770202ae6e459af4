package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shoplane/inventory-service/internal/inventory"
	"github.com/shoplane/inventory-service/internal/inventory/dto"
	"github.com/shoplane/inventory-service/internal/model"
	"github.com/shoplane/inventory-service/pkg/logger"
)

var testLogger = logger.NewZapLogger(&logger.ZapLoggerConfig{
	Level:             "error",
	Encoding:          "json",
	DisableCaller:     true,
	DisableStacktrace: true,
})

type fakeUseCase struct {
	inventory.UseCase
	reserveErr error
	confirmErr error
}

func (f *fakeUseCase) GetInventory(_ context.Context, productID string) (*model.InventorySummary, error) {
	s := &model.InventorySummary{
		ProductID: productID,
		Variants:  model.VariantList{{CurrentStock: 10}},
	}
	s.Recompute(nil)
	return s, nil
}

func (f *fakeUseCase) Reserve(_ context.Context, input *dto.ReserveInput) (*model.StockReservation, *model.InventorySummary, error) {
	if f.reserveErr != nil {
		return nil, nil, f.reserveErr
	}
	return &model.StockReservation{ID: "r1", ProductID: input.ProductID, Quantity: input.Quantity, Status: model.ReservationActive},
		&model.InventorySummary{ProductID: input.ProductID}, nil
}

func (f *fakeUseCase) ConfirmReservation(_ context.Context, _ string) (*model.InventorySummary, error) {
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return &model.InventorySummary{ProductID: "p1"}, nil
}

func doRequest(t *testing.T, uc inventory.UseCase, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	NewServer(uc, testLogger).Handler().ServeHTTP(rec, req)
	return rec
}

func TestGetInventory(t *testing.T) {
	rec := doRequest(t, &fakeUseCase{}, http.MethodGet, "/api/v1/inventory/p1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var s model.InventorySummary
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if s.ProductID != "p1" || s.TotalStock != 10 {
		t.Errorf("unexpected summary: %+v", s)
	}
}

func TestReserve_Created(t *testing.T) {
	rec := doRequest(t, &fakeUseCase{}, http.MethodPost, "/api/v1/reservations",
		`{"productId":"p1","quantity":3}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp reserveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Reservation == nil || resp.Reservation.Status != model.ReservationActive {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		uc         *fakeUseCase
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"insufficient available", &fakeUseCase{reserveErr: model.ErrInsufficientAvailable},
			http.MethodPost, "/api/v1/reservations", `{"productId":"p1","quantity":3}`, http.StatusConflict},
		{"unknown variant", &fakeUseCase{reserveErr: model.ErrUnknownVariant},
			http.MethodPost, "/api/v1/reservations", `{"productId":"p1","quantity":3}`, http.StatusNotFound},
		{"invalid quantity", &fakeUseCase{reserveErr: model.ErrInvalidQuantity},
			http.MethodPost, "/api/v1/reservations", `{"productId":"p1","quantity":0}`, http.StatusBadRequest},
		{"lock timeout is retryable", &fakeUseCase{reserveErr: model.ErrLockTimeout},
			http.MethodPost, "/api/v1/reservations", `{"productId":"p1","quantity":3}`, http.StatusServiceUnavailable},
		{"already resolved", &fakeUseCase{confirmErr: model.ErrAlreadyResolved},
			http.MethodPost, "/api/v1/reservations/r1/confirm", "", http.StatusConflict},
		{"reservation not found", &fakeUseCase{confirmErr: model.ErrReservationNotFound},
			http.MethodPost, "/api/v1/reservations/r1/confirm", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, tt.uc, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRecordMovement_RejectsBadType(t *testing.T) {
	rec := doRequest(t, &fakeUseCase{}, http.MethodPost, "/api/v1/movements",
		`{"productId":"p1","movementType":"reservation","quantity":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for audit-only movement type, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	rec := doRequest(t, &fakeUseCase{}, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
