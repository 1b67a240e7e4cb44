package rank

import (
	"fmt"
	"sort"

	"feed-curator/internal/domain"
)

// Select выбирает до targetCount записей из ранжированного списка,
// допуская не больше maxPerSource записей от одного источника.
// Равные итоговые оценки сохраняют исходный порядок, поэтому выбор
// детерминирован при одинаковом входе. Каждая запись получает
// человекочитаемую причину включения или исключения.
func Select(rankedItems []domain.ScoredItem, maxPerSource, targetCount int) domain.DiversitySelection {
	selection := domain.DiversitySelection{
		Reasons: make(map[string]string, len(rankedItems)),
	}
	if targetCount <= 0 || maxPerSource <= 0 {
		return selection
	}

	ordered := make([]domain.ScoredItem, len(rankedItems))
	copy(ordered, rankedItems)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score.Final > ordered[j].Score.Final
	})

	perSource := make(map[string]int)
	for _, candidate := range ordered {
		if len(selection.Items) >= targetCount {
			break
		}
		source := candidate.Item.Source
		if perSource[source] >= maxPerSource {
			selection.Reasons[candidate.Item.ID] = "Excluded (source cap reached)"
			continue
		}
		perSource[source]++
		selection.Items = append(selection.Items, candidate)
		selection.Reasons[candidate.Item.ID] = fmt.Sprintf(
			"Selected (rank %d, source count %d/%d)",
			len(selection.Items), perSource[source], maxPerSource,
		)
	}
	return selection
}
