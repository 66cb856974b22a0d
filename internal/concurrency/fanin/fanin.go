package fanin

import (
	"context"
	"sync"

	"candleflow/internal/domain/model"
)

// FanIn объединяет каналы View в один. Порядок сохраняется только внутри
// каждого входного канала.
// После отмены ctx значения не пересылаются, но входы дочитываются до
// закрытия. Выход закрывается, когда закрыты все входы.
func FanIn(ctx context.Context, channels ...<-chan model.View) <-chan model.View {
	out := make(chan model.View)
	var wg sync.WaitGroup
	wg.Add(len(channels))

	forward := func(in <-chan model.View) {
		defer wg.Done()
		for v := range in {
			if ctx.Err() != nil {
				continue
			}
			select {
			case out <- v:
			case <-ctx.Done():
			}
		}
	}
	for _, ch := range channels {
		go forward(ch)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
