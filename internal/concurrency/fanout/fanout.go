package fanout

import (
	"hash/fnv"

	"candleflow/internal/domain/model"
)

// Partition распределяет View из `in` по n каналам по ключу графика:
// все View одного графика попадают в один и тот же канал, порядок внутри
// графика сохраняется. Каналы закрываются, когда закрывается `in`.
func Partition(in <-chan model.View, n int, key func(model.View) string) []<-chan model.View {
	if n <= 0 {
		n = 1
	}
	if key == nil {
		key = model.View.Key
	}
	outs := make([]chan model.View, n)
	for i := 0; i < n; i++ {
		outs[i] = make(chan model.View)
	}

	go func() {
		defer func() {
			for _, ch := range outs {
				close(ch)
			}
		}()

		for v := range in {
			outs[Slot(key(v), n)] <- v
		}
	}()

	ro := make([]<-chan model.View, n)
	for i, ch := range outs {
		ro[i] = ch
	}
	return ro
}

// Slot maps a key onto [0, n).
func Slot(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
