// Package notify delivers tracker notifications: every notification is logged,
// kept in a bounded recent list and optionally fanned out over a publisher.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ringtail/che/internal/models"
)

const defaultCapacity = 100

// Publisher fans notifications out to other processes.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

type Options struct {
	Capacity  int
	Publisher Publisher
	Subject   string
	Logger    *zap.Logger
}

// Manager implements tracker.Notifier.
type Manager struct {
	pub     Publisher
	subject string
	log     *zap.Logger

	mu     sync.RWMutex
	recent []models.Notification
	next   int
	full   bool
}

func NewManager(opts Options) *Manager {
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		pub:     opts.Publisher,
		subject: opts.Subject,
		log:     opts.Logger.Named("notify"),
		recent:  make([]models.Notification, opts.Capacity),
	}
}

func (m *Manager) Notify(n models.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Time.IsZero() {
		n.Time = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.String("id", n.ID),
		zap.String("severity", string(n.Severity)),
		zap.String("mode", string(n.Mode)),
	}
	if n.Severity == models.SeverityFail {
		m.log.Warn(n.Message, fields...)
	} else {
		m.log.Info(n.Message, fields...)
	}

	m.mu.Lock()
	m.recent[m.next] = n
	m.next = (m.next + 1) % len(m.recent)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()

	m.publish(n)
}

// Recent returns up to limit notifications, oldest first. limit <= 0 returns
// everything kept.
func (m *Manager) Recent(limit int) []models.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Notification
	if m.full {
		out = append(out, m.recent[m.next:]...)
	}
	out = append(out, m.recent[:m.next]...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (m *Manager) publish(n models.Notification) {
	if m.pub == nil || m.subject == "" {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		m.log.Error("encode notification", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.pub.Publish(ctx, m.subject, payload); err != nil {
		m.log.Warn("publish notification", zap.String("subject", m.subject), zap.Error(err))
	}
}
