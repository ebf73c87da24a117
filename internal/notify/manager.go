// Package notify delivers run reports to chat webhooks.
package notify

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/stacktag/stacktag/internal/logging"
)

// DefaultCooldown is the minimum gap between two sends to the same service.
var DefaultCooldown = 100 * time.Millisecond

// Service is the interface all notifiers must implement
type Service interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// RetryPolicy bounds the attempts made for one send.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	// Jitter adds up to this random duration to each backoff
	Jitter time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseBackoff: 100 * time.Millisecond}

// backoff returns the wait after the given failed attempt: base * 2^(attempt-1) plus jitter.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseBackoff * time.Duration(1<<uint(attempt-1))
	if p.Jitter > 0 {
		if n, err := crand.Int(crand.Reader, big.NewInt(int64(p.Jitter))); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	return d
}

// MultiNotifier fans a message out to every configured service asynchronously.
type MultiNotifier struct {
	services []Service
	retry    RetryPolicy
	cooldown time.Duration
	// sleep is swapped in tests
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	lastSent map[string]time.Time
	wg       sync.WaitGroup
}

func NewMultiNotifier() *MultiNotifier {
	return &MultiNotifier{
		retry:    DefaultRetryPolicy,
		cooldown: DefaultCooldown,
		sleep:    sleepCtx,
		lastSent: make(map[string]time.Time),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MultiNotifier) Add(s Service) {
	if s != nil {
		m.services = append(m.services, s)
	}
}

func (m *MultiNotifier) Len() int { return len(m.services) }

func (m *MultiNotifier) SetCooldown(d time.Duration) { m.cooldown = d }

func (m *MultiNotifier) SetRetryPolicy(p RetryPolicy) { m.retry = p }

// Send delivers to all services in the background. Use Wait to block until
// every delivery has finished.
func (m *MultiNotifier) Send(ctx context.Context, title, message string) {
	now := time.Now()
	for _, s := range m.services {
		m.wg.Add(1)
		go func(svc Service) {
			defer m.wg.Done()
			log := logging.Get().With().Str("service", svc.Name()).Logger()
			if m.coolingDown(svc.Name(), now) {
				log.Warn().Msg("skipping notification due to cooldown")
				return
			}
			if err := m.sendWithRetries(ctx, svc, title, message); err != nil {
				log.Error().Err(err).Msg("all notification retries failed")
			}
		}(s)
	}
}

// Wait waits for pending sends or until ctx is done.
func (m *MultiNotifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MultiNotifier) coolingDown(name string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastSent[name]
	return ok && now.Sub(last) < m.cooldown
}

func (m *MultiNotifier) sendWithRetries(ctx context.Context, s Service, title, message string) error {
	attempts := max(m.retry.MaxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = s.Send(ctx, title, message)
		if lastErr == nil {
			m.mu.Lock()
			m.lastSent[s.Name()] = time.Now()
			m.mu.Unlock()
			logging.Get().Debug().Str("service", s.Name()).Msg("notification sent")
			return nil
		}
		logging.Get().Warn().Err(lastErr).Str("service", s.Name()).Int("attempt", attempt).Msg("notification attempt failed")
		if attempt < attempts {
			if err := m.sleep(ctx, m.retry.backoff(attempt)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// postJSON is a shared helper used by providers
func postJSON(ctx context.Context, url string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("api returned status %d", resp.StatusCode)
	}
	return nil
}
