package rank

import (
	"fmt"
	"strings"
	"testing"

	"feed-curator/internal/domain"
)

func scored(id, source string, final float64) domain.ScoredItem {
	return domain.ScoredItem{
		Item:  domain.FeedItem{ID: id, Source: source},
		Score: domain.ItemScore{ItemID: id, Final: final},
	}
}

func TestSelectRespectsSourceCap(t *testing.T) {
	// Один источник занимает первые 10 позиций рейтинга.
	var ranked []domain.ScoredItem
	for i := 0; i < 10; i++ {
		ranked = append(ranked, scored(fmt.Sprintf("big-%d", i), "big", 1.0-float64(i)*0.01))
	}
	for i := 0; i < 20; i++ {
		ranked = append(ranked, scored(fmt.Sprintf("other-%d", i), fmt.Sprintf("src-%d", i), 0.5-float64(i)*0.01))
	}

	selection := Select(ranked, 2, 15)

	if len(selection.Items) != 15 {
		t.Fatalf("ожидали 15 записей, получили %d", len(selection.Items))
	}
	perSource := map[string]int{}
	for _, si := range selection.Items {
		perSource[si.Item.Source]++
	}
	if perSource["big"] != 2 {
		t.Fatalf("ожидали ровно 2 записи доминирующего источника, получили %d", perSource["big"])
	}
	for source, count := range perSource {
		if count > 2 {
			t.Fatalf("источник %s превысил ограничение: %d", source, count)
		}
	}
	// Остальные 13 мест заполняются по убыванию оценки.
	if selection.Items[2].Item.ID != "other-0" {
		t.Fatalf("третьей должна быть лучшая запись других источников, получили %s", selection.Items[2].Item.ID)
	}
}

func TestSelectReasons(t *testing.T) {
	ranked := []domain.ScoredItem{
		scored("a", "s1", 0.9),
		scored("b", "s1", 0.8),
		scored("c", "s1", 0.7),
		scored("d", "s2", 0.6),
	}
	selection := Select(ranked, 2, 10)

	if got := selection.Reasons["a"]; got != "Selected (rank 1, source count 1/2)" {
		t.Fatalf("неожиданная причина для a: %q", got)
	}
	if got := selection.Reasons["b"]; got != "Selected (rank 2, source count 2/2)" {
		t.Fatalf("неожиданная причина для b: %q", got)
	}
	if got := selection.Reasons["c"]; got != "Excluded (source cap reached)" {
		t.Fatalf("неожиданная причина для c: %q", got)
	}
	if !strings.HasPrefix(selection.Reasons["d"], "Selected") {
		t.Fatalf("d должна быть выбрана, причина %q", selection.Reasons["d"])
	}
}

func TestSelectDeterministicOnTies(t *testing.T) {
	ranked := []domain.ScoredItem{
		scored("first", "s1", 0.5),
		scored("second", "s2", 0.5),
		scored("third", "s3", 0.5),
	}
	for run := 0; run < 5; run++ {
		selection := Select(ranked, 1, 2)
		if selection.Items[0].Item.ID != "first" || selection.Items[1].Item.ID != "second" {
			t.Fatalf("при равных оценках порядок должен сохраняться, прогон %d: %s, %s",
				run, selection.Items[0].Item.ID, selection.Items[1].Item.ID)
		}
	}
}

func TestSelectStopsAtTargetCount(t *testing.T) {
	var ranked []domain.ScoredItem
	for i := 0; i < 50; i++ {
		ranked = append(ranked, scored(fmt.Sprintf("id-%d", i), fmt.Sprintf("s-%d", i), float64(50-i)))
	}
	selection := Select(ranked, 2, 7)
	if len(selection.Items) != 7 {
		t.Fatalf("ожидали 7 записей, получили %d", len(selection.Items))
	}
}

func TestSelectEmptyInput(t *testing.T) {
	selection := Select(nil, 2, 10)
	if len(selection.Items) != 0 {
		t.Fatalf("пустой вход должен давать пустую выборку")
	}
	if selection.Reasons == nil {
		t.Fatalf("карта причин должна быть инициализирована")
	}
}
