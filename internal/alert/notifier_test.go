package alert

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shoplane/inventory-service/internal/model"
	"github.com/shoplane/inventory-service/pkg/logger"
)

var testLogger = logger.NewZapLogger(&logger.ZapLoggerConfig{
	Level:             "error",
	Encoding:          "json",
	DisableCaller:     true,
	DisableStacktrace: true,
})

type fakeConfigRepo struct {
	mu      sync.Mutex
	configs []model.AlertConfig
	sent    map[string]time.Time
}

func (r *fakeConfigRepo) FindActiveConfigs(_ context.Context, productID string) ([]model.AlertConfig, error) {
	var out []model.AlertConfig
	for _, c := range r.configs {
		if c.ProductID == productID && c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeConfigRepo) MarkAlertSent(_ context.Context, configID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = map[string]time.Time{}
	}
	r.sent[configID] = at
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []model.AlertEvent
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, _, value []byte) error {
	if p.err != nil {
		return p.err
	}
	var ev model.AlertEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, ev)
	return nil
}

func TestNotifier_PublishesAndStamps(t *testing.T) {
	repo := &fakeConfigRepo{configs: []model.AlertConfig{lowStockConfig(10)}}
	pub := &fakePublisher{}
	n := NewNotifier(repo, pub, testLogger, time.Hour)

	n.Inspect(context.Background(), "p1", summaryWithAvailable(12), summaryWithAvailable(8))

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(pub.published))
	}
	ev := pub.published[0]
	if ev.AlertType != model.AlertLowStock || ev.CurrentAvailable != 8 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if _, ok := repo.sent["cfg1"]; !ok {
		t.Error("lastAlertSent was not stamped")
	}
}

func TestNotifier_PublishFailureSkipsStamp(t *testing.T) {
	// A failed emission must stay eligible for the next boundary crossing,
	// so lastAlertSent is not stamped.
	repo := &fakeConfigRepo{configs: []model.AlertConfig{lowStockConfig(10)}}
	pub := &fakePublisher{err: errors.New("broker down")}
	n := NewNotifier(repo, pub, testLogger, time.Hour)

	n.Inspect(context.Background(), "p1", summaryWithAvailable(12), summaryWithAvailable(8))

	if len(repo.sent) != 0 {
		t.Error("lastAlertSent stamped despite failed publish")
	}
}

func TestNotifier_NoConfigsNoWork(t *testing.T) {
	repo := &fakeConfigRepo{}
	pub := &fakePublisher{}
	n := NewNotifier(repo, pub, testLogger, time.Hour)

	n.Inspect(context.Background(), "p1", summaryWithAvailable(12), summaryWithAvailable(8))

	if len(pub.published) != 0 {
		t.Errorf("expected nothing published, got %d", len(pub.published))
	}
}
