package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/shoplane/inventory-service/internal/inventory"
	"github.com/shoplane/inventory-service/internal/model"
	"github.com/shoplane/inventory-service/pkg/logger"
)

var testLogger = logger.NewZapLogger(&logger.ZapLoggerConfig{
	Level:             "error",
	Encoding:          "json",
	DisableCaller:     true,
	DisableStacktrace: true,
})

type fakeRepo struct {
	inventory.Repository
	expired []model.StockReservation
}

func (r *fakeRepo) FindExpiredReservations(_ context.Context, _ time.Time, limit int) ([]model.StockReservation, error) {
	if len(r.expired) > limit {
		return r.expired[:limit], nil
	}
	return r.expired, nil
}

type fakeEngine struct {
	inventory.UseCase
	expireErr map[string]error
	expired   []string
}

func (e *fakeEngine) ExpireReservation(_ context.Context, id string) (*model.InventorySummary, error) {
	if err, ok := e.expireErr[id]; ok {
		return nil, err
	}
	e.expired = append(e.expired, id)
	return &model.InventorySummary{}, nil
}

func TestSweepOnce_ExpiresStaleReservations(t *testing.T) {
	repo := &fakeRepo{expired: []model.StockReservation{
		{ID: "r1", ProductID: "p1"},
		{ID: "r2", ProductID: "p2"},
	}}
	engine := &fakeEngine{}

	s := NewSweeper(repo, engine, testLogger, time.Minute, 100)
	count, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 || len(engine.expired) != 2 {
		t.Errorf("expected 2 expirations, got count=%d expired=%v", count, engine.expired)
	}
}

func TestSweepOnce_SkipsRacedResolutions(t *testing.T) {
	// r1 was confirmed between the scan and the resolution; the sweep must
	// swallow that and keep going.
	repo := &fakeRepo{expired: []model.StockReservation{
		{ID: "r1", ProductID: "p1"},
		{ID: "r2", ProductID: "p2"},
	}}
	engine := &fakeEngine{expireErr: map[string]error{"r1": model.ErrAlreadyResolved}}

	s := NewSweeper(repo, engine, testLogger, time.Minute, 100)
	count, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 expiration after skipping the raced one, got %d", count)
	}
}

func TestSweepOnce_OneFailureDoesNotBlockTheBatch(t *testing.T) {
	repo := &fakeRepo{expired: []model.StockReservation{
		{ID: "r1", ProductID: "p1"},
		{ID: "r2", ProductID: "p2"},
		{ID: "r3", ProductID: "p3"},
	}}
	engine := &fakeEngine{expireErr: map[string]error{"r2": model.ErrLockTimeout}}

	s := NewSweeper(repo, engine, testLogger, time.Minute, 100)
	count, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected the other 2 reservations to expire, got %d", count)
	}
}

func TestSweepOnce_RespectsBatchSize(t *testing.T) {
	repo := &fakeRepo{expired: []model.StockReservation{
		{ID: "r1"}, {ID: "r2"}, {ID: "r3"},
	}}
	engine := &fakeEngine{}

	s := NewSweeper(repo, engine, testLogger, time.Minute, 2)
	count, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected batch of 2, got %d", count)
	}
}
