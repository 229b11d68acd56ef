package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/annel0/craft-world/internal/eventbus"
	"github.com/annel0/craft-world/internal/logging"
)

// SignatureHeader заголовок HMAC-SHA256 подписи тела
const SignatureHeader = "X-Craft-Signature"

// OutboundWebhook получатель событий мира
type OutboundWebhook struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name" binding:"required"`
	URL          string     `json:"url" binding:"required"`
	Secret       string     `json:"secret,omitempty"`
	Events       []string   `json:"events" binding:"required"` // типы событий шины или "*"
	Active       bool       `json:"active"`
	Timeout      int        `json:"timeout"` // таймаут в секундах
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	FailureCount int        `json:"failure_count"`
}

func (w *OutboundWebhook) wants(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// WebhookManager пересылает события шины подписанным webhook'ам.
// Очередь ограничена: при переполнении событие для webhook'ов теряется.
type WebhookManager struct {
	mu       sync.RWMutex
	webhooks map[uint64]*OutboundWebhook
	nextID   uint64

	qmu        sync.RWMutex
	closed     bool
	queue      chan *eventbus.Envelope
	httpClient *http.Client
	logger     *logging.Logger
	backoff    time.Duration

	sub  eventbus.Subscription
	wg   sync.WaitGroup
	once sync.Once
}

// NewWebhookManager создаёт менеджер без подписки на шину
func NewWebhookManager() *WebhookManager {
	return &WebhookManager{
		webhooks:   make(map[uint64]*OutboundWebhook),
		nextID:     1,
		queue:      make(chan *eventbus.Envelope, 1000),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logging.GetComponentLogger("api"),
		backoff:    time.Second,
	}
}

// Start подписывается на все события шины и запускает отправку
func (m *WebhookManager) Start(ctx context.Context, bus eventbus.EventBus) error {
	sub, err := bus.Subscribe(ctx, eventbus.Filter{}, func(_ context.Context, ev *eventbus.Envelope) {
		m.Enqueue(ev)
	})
	if err != nil {
		return fmt.Errorf("webhooks: подписка на шину: %w", err)
	}
	m.sub = sub
	m.wg.Add(1)
	go m.worker()
	return nil
}

// Stop отписывается от шины и дожидается отправки очереди
func (m *WebhookManager) Stop() {
	m.once.Do(func() {
		if m.sub != nil {
			m.sub.Unsubscribe()
		}
		m.qmu.Lock()
		m.closed = true
		close(m.queue)
		m.qmu.Unlock()
		m.wg.Wait()
	})
}

// Enqueue ставит событие в очередь отправки
func (m *WebhookManager) Enqueue(ev *eventbus.Envelope) {
	m.qmu.RLock()
	defer m.qmu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- ev:
	default:
		m.logger.Warn("Очередь webhook'ов переполнена, событие %s пропущено", ev.EventType)
	}
}

// Add регистрирует webhook
func (m *WebhookManager) Add(w OutboundWebhook) *OutboundWebhook {
	m.mu.Lock()
	defer m.mu.Unlock()

	w.ID = m.nextID
	m.nextID++
	w.CreatedAt = time.Now()
	w.Active = true
	if w.Timeout == 0 {
		w.Timeout = 10
	}
	if w.RetryCount == 0 {
		w.RetryCount = 3
	}
	m.webhooks[w.ID] = &w
	out := w
	return &out
}

// List возвращает копии webhook'ов по возрастанию ID
func (m *WebhookManager) List() []OutboundWebhook {
	m.mu.RLock()
	out := make([]OutboundWebhook, 0, len(m.webhooks))
	for _, w := range m.webhooks {
		out = append(out, *w)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete удаляет webhook
func (m *WebhookManager) Delete(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[id]; !ok {
		return false
	}
	delete(m.webhooks, id)
	return true
}

func (m *WebhookManager) worker() {
	defer m.wg.Done()
	for ev := range m.queue {
		m.mu.RLock()
		var targets []*OutboundWebhook
		for _, w := range m.webhooks {
			if w.Active && w.wants(ev.EventType) {
				targets = append(targets, w)
			}
		}
		m.mu.RUnlock()

		if len(targets) == 0 {
			continue
		}
		body, err := json.Marshal(ev)
		if err != nil {
			m.logger.Error("Ошибка маршалинга события %s: %v", ev.EventType, err)
			continue
		}
		for _, w := range targets {
			m.deliver(w, ev.EventType, body)
		}
	}
}

// deliver отправляет тело одному webhook'у с повторами
func (m *WebhookManager) deliver(w *OutboundWebhook, eventType string, body []byte) {
	m.mu.RLock()
	name, url, secret := w.Name, w.URL, w.Secret
	timeout := time.Duration(w.Timeout) * time.Second
	retries := w.RetryCount
	m.mu.RUnlock()

	success := false
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * m.backoff)
		}
		status, err := m.post(url, secret, eventType, body, timeout)
		if err != nil {
			m.logger.Warn("Попытка %d/%d для webhook %s: %v", attempt+1, retries+1, name, err)
			continue
		}
		if status >= 200 && status < 300 {
			success = true
			m.logger.Debug("Событие %s отправлено в webhook %s", eventType, name)
			break
		}
		m.logger.Warn("Webhook %s вернул статус %d на попытке %d", name, status, attempt+1)
	}

	m.mu.Lock()
	now := time.Now()
	w.LastUsed = &now
	if !success {
		w.FailureCount++
	}
	m.mu.Unlock()
}

func (m *WebhookManager) post(url, secret, eventType string, body []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "craft-world/1.0")
	req.Header.Set("X-Event-Type", eventType)
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, secret))
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// Sign HMAC подпись тела в формате "sha256=<hex>"
func Sign(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify сравнивает заголовок подписи с HMAC тела за постоянное время
func Verify(data []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(data, secret)), []byte(signature))
}
