// Package validation содержит проверку и нормализацию позиций запроса.
package validation

import (
	"errors"
	"fmt"
	"math"

	"github.com/mmeshcher/beershop-system/internal/model"
)

// ErrInvalidItems возвращается при некорректных позициях запроса; конкретная
// причина добавляется обёрткой.
var ErrInvalidItems = errors.New("invalid line items")

// NormalizeLineItems проверяет позиции запроса и приводит их к каноническому виду:
// пустые идентификаторы и неположительные количества отклоняются, дубликаты
// одного товара объединяются в одну позицию с суммарным количеством.
// Порядок первого появления товара сохраняется.
func NormalizeLineItems(items []model.LineItem) ([]model.LineItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one line item is required", ErrInvalidItems)
	}

	index := make(map[string]int, len(items))
	normalized := make([]model.LineItem, 0, len(items))

	for _, it := range items {
		if it.ProductID == "" {
			return nil, fmt.Errorf("%w: line item without product id", ErrInvalidItems)
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity %d for product %s", ErrInvalidItems, it.Quantity, it.ProductID)
		}

		if i, ok := index[it.ProductID]; ok {
			// Сумма количеств не должна переполнять int32 и уходить в минус.
			if it.Quantity > math.MaxInt32-normalized[i].Quantity {
				return nil, fmt.Errorf("%w: total quantity for product %s overflows", ErrInvalidItems, it.ProductID)
			}
			normalized[i].Quantity += it.Quantity
			continue
		}

		index[it.ProductID] = len(normalized)
		normalized = append(normalized, it)
	}

	return normalized, nil
}
