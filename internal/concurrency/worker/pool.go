package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"candleflow/internal/concurrency/fanout"
	"candleflow/internal/domain/model"
	"candleflow/internal/domain/port"
)

// Pool записывает опубликованные View в кеш.
// При ошибке записи в кеш бары сохраняются в хранилище.
type Pool struct {
	workers int
	cache   port.CachePort
	storage port.HistoryWriter
	source  string
	logger  *slog.Logger
}

// NewPool создаёт новый пул воркеров.
func NewPool(workers int, cache port.CachePort, storage port.HistoryWriter, source string, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		cache:   cache,
		storage: storage,
		source:  source,
		logger:  logger,
	}
}

// Start запускает воркеры, читает из in и возвращает канал processed,
// в который помещаются View после обработки. View одного графика всегда
// обрабатывает один и тот же воркер, поэтому старая ревизия не перезапишет новую.
// processed закрывается, когда все воркеры завершат работу.
func (p *Pool) Start(ctx context.Context, in <-chan model.View) <-chan model.View {
	out := make(chan model.View)
	var wg sync.WaitGroup

	parts := fanout.Partition(in, p.workers, model.View.Key)

	wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id, parts[id], out)
		}(i)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func (p *Pool) workerLoop(ctx context.Context, id int, in <-chan model.View, out chan<- model.View) {
	for {
		select {
		case <-ctx.Done():
			// дочитываем раздел, чтобы Partition не заблокировался
			for range in {
			}
			return
		case v, ok := <-in:
			if !ok {
				return
			}
			p.processOne(ctx, id, v)

			select {
			case <-ctx.Done():
			case out <- v:
			}
		}
	}
}

func (p *Pool) processOne(ctx context.Context, id int, v model.View) {
	// 1) Сохраняем View
	if err := p.cache.SetView(ctx, v); err != nil {
		p.logger.Error("worker: SetView failed, performing fallback to storage", "worker", id, "chart", v.Key(), "err", err)
		p.fallbackWrite(ctx, v)
		return
	}

	// 2) Последняя цена символа
	if latest, ok := model.LatestFromView(v, p.source, time.Now().UTC()); ok {
		if err := p.cache.SetLatestPrice(ctx, v.Symbol, latest); err != nil {
			p.logger.Error("worker: SetLatestPrice failed", "worker", id, "symbol", v.Symbol, "err", err)
		}
	}

	p.logger.Debug("worker: cached view", "worker", id, "chart", v.Key(), "revision", v.Revision)
}

// fallbackWrite сохраняет закрытые бары View в хранилище.
func (p *Pool) fallbackWrite(ctx context.Context, v model.View) {
	if p.storage == nil || len(v.Historical) == 0 {
		return
	}
	if err := p.storage.SaveBars(ctx, v.Symbol, v.Timeframe, v.Historical); err != nil {
		p.logger.Error("worker: fallback SaveBars failed", "chart", v.Key(), "err", err)
	}
}
