// Package batch отправляет большие списки элементов чанками фиксированного размера.
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"podcasts/internal/domain"
)

// SendFunc отправляет один чанк. Nil-результат означает, что чанку нечего добавить в итог.
type SendFunc[T, R any] func(ctx context.Context, chunk []T) (*R, error)

// MergeFunc ассоциативно объединяет два результата.
type MergeFunc[R any] func(a, b R) R

// Split делит items на последовательные чанки не длиннее size, сохраняя порядок.
// Последний чанк может быть короче.
func Split[T any](items []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidChunkSize, size)
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks, nil
}

// Dispatch делит items на чанки, отправляет их все параллельно и объединяет
// непустые результаты через merge в порядке чанков.
// Для пустого списка send не вызывается и возвращается нулевое значение R.
// Ошибка любого чанка отменяет остальные и возвращается целиком, без частичного результата.
func Dispatch[T, R any](
	ctx context.Context,
	items []T,
	size int,
	send SendFunc[T, R],
	merge MergeFunc[R],
) (R, error) {
	var zero R
	chunks, err := Split(items, size)
	if err != nil {
		return zero, err
	}
	if len(chunks) == 0 {
		return zero, nil
	}
	results := make([]*R, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			res, err := send(gctx, chunk)
			if err != nil {
				return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return zero, err
	}
	merged := zero
	for _, res := range results {
		if res != nil {
			merged = merge(merged, *res)
		}
	}
	return merged, nil
}
