package retention

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/damoang/angple-social/pkg/logger"
)

// Purger permanently removes expired messages
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// ErrInvalidCron is returned for expressions gronx cannot parse
var ErrInvalidCron = errors.New("invalid retention cron expression")

const retryDelay = 30 * time.Second

// Sweeper 만료 메시지 정리 스케줄러 (in-process)
type Sweeper struct {
	purger  Purger
	cron    string
	now     func() time.Time
	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	lastRun    time.Time
	lastPurged int64
	lastErr    error
}

// NewSweeper validates the cron expression and creates a Sweeper
func NewSweeper(purger Purger, cron string) (*Sweeper, error) {
	if !gronx.New().IsValid(cron) {
		return nil, ErrInvalidCron
	}
	return &Sweeper{
		purger: purger,
		cron:   cron,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start 백그라운드 goroutine 시작, Stop 또는 ctx 취소로 종료
func (s *Sweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	logger.Info("retention sweeper started (cron: %s)", s.cron)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop 스케줄러 종료 및 진행 중인 작업 대기
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(s.cron, s.now(), false)
		if err != nil {
			logger.Error("retention next tick failed: %v", err)
			if !sleep(ctx, retryDelay) {
				return
			}
			continue
		}

		if !sleep(ctx, next.Sub(s.now())) {
			return
		}
		if _, err := s.RunOnce(ctx); err != nil {
			logger.Error("retention sweep failed: %v", err)
		}
	}
}

// RunOnce purges immediately. Overlapping runs are skipped.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return 0, nil
	}
	s.running = true
	s.mu.Unlock()

	started := s.now()
	purged, err := s.purger.PurgeExpired(ctx)

	s.mu.Lock()
	s.running = false
	s.lastRun = started
	s.lastPurged = purged
	s.lastErr = err
	s.mu.Unlock()

	if err == nil && purged > 0 {
		logger.Info("retention sweep purged %d messages", purged)
	}
	return purged, err
}

// Status 마지막 실행 정보
func (s *Sweeper) Status() (lastRun time.Time, purged int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastPurged, s.lastErr
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
