package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"candleflow/internal/domain/model"
	"candleflow/internal/domain/port"
)

// ViewSource отдаёт текущий снимок графика.
type ViewSource interface {
	Snapshot() model.View
}

// ArchiveService периодически сохраняет исторические бары живых графиков в хранилище.
type ArchiveService struct {
	storage port.HistoryWriter
	logger  *slog.Logger
	ticker  *time.Ticker
	done    chan struct{}
	stopped chan struct{}
	sources []ViewSource
	// saved хранит время последнего сохранённого бара по ключу графика
	saved map[string]int64
	mu    sync.Mutex
}

func NewArchiveService(storage port.HistoryWriter, logger *slog.Logger) *ArchiveService {
	return &ArchiveService{
		storage: storage,
		logger:  logger.With("component", "archive"),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		saved:   make(map[string]int64),
	}
}

func (s *ArchiveService) SetSources(sources ...ViewSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append([]ViewSource{}, sources...)
}

// Start запускает цикл архивации. Если interval <= 0, используется 1 минута.
func (s *ArchiveService) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	s.mu.Lock()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.ticker = time.NewTicker(interval)
	tick := s.ticker
	s.mu.Unlock()

	s.logger.Info("archive service starting", "interval", interval.String())
	go s.loop(ctx, tick)
}

// Stop останавливает цикл и дожидается финальной архивации.
func (s *ArchiveService) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	// закрываем done только один раз
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()

	<-s.stopped
	s.logger.Info("archive service stopped")
}

func (s *ArchiveService) loop(ctx context.Context, tick *time.Ticker) {
	defer close(s.stopped)
	// Гарантируем финальную запись при выходе
	defer func() {
		s.logger.Info("running final archive before exit")
		if _, err := s.Flush(context.Background()); err != nil {
			s.logger.Error("final archive failed", "error", err)
		}
	}()

	for {
		select {
		case <-tick.C:
			start := time.Now()
			n, err := s.Flush(ctx)
			if err != nil {
				s.logger.Error("archive cycle failed", "error", err, "duration", time.Since(start))
				continue
			}
			s.logger.Debug("archive cycle completed", "bars", n, "duration", time.Since(start))
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Flush пишет бары каждого устоявшегося графика начиная с последнего
// сохранённого (он мог обновиться). Возвращает число записанных баров.
func (s *ArchiveService) Flush(ctx context.Context) (int, error) {
	s.mu.Lock()
	sources := append([]ViewSource{}, s.sources...)
	s.mu.Unlock()

	total := 0
	var firstErr error
	for _, src := range sources {
		v := src.Snapshot()
		if !v.Settled || len(v.Historical) == 0 {
			continue
		}
		key := v.Key()

		s.mu.Lock()
		last, seen := s.saved[key]
		s.mu.Unlock()

		batch := v.Historical
		if seen {
			batch = tail(v.Historical, last)
		}
		if len(batch) == 0 {
			continue
		}

		if err := s.storage.SaveBars(ctx, v.Symbol, v.Timeframe, batch); err != nil {
			// НЕ сдвигаем отметку, следующий цикл повторит запись
			s.logger.Error("failed to archive bars", "key", key, "bars", len(batch), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		s.mu.Lock()
		s.saved[key] = batch[len(batch)-1].Time
		s.mu.Unlock()
		total += len(batch)
	}
	return total, firstErr
}

// tail returns the bars at or after from; series is sorted ascending.
func tail(series []model.Bar, from int64) []model.Bar {
	for i, b := range series {
		if b.Time >= from {
			return series[i:]
		}
	}
	return nil
}
