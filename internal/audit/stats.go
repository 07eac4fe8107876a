package audit

import (
	"context"
	"sort"
)

// ActionCount: сколько раз пользователь выполнил действие.
type ActionCount struct {
	Action    string
	Count     int64
	Succeeded int64
}

// Stats: сводка по разрешенным действиям одного пользователя.
type Stats struct {
	Total     int64
	Succeeded int64
	Failed    int64
	Top       []ActionCount
}

// StatsReader считает статистику по журналу. Записи попадают в хранилище
// асинхронно, поэтому последние действия могут быть еще не учтены.
type StatsReader interface {
	Stats(ctx context.Context, identity string, top int) (Stats, error)
}

// SummarizeStats сворачивает построчные счетчики хранилища в Stats.
// Top отсортирован по убыванию, при равенстве по имени действия.
func SummarizeStats(rows []ActionCount, top int) Stats {
	var s Stats
	for _, r := range rows {
		s.Total += r.Count
		s.Succeeded += r.Succeeded
	}
	s.Failed = s.Total - s.Succeeded

	sorted := append([]ActionCount(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Count != sorted[j].Count {
			return sorted[i].Count > sorted[j].Count
		}
		return sorted[i].Action < sorted[j].Action
	})
	if top >= 0 && len(sorted) > top {
		sorted = sorted[:top]
	}
	s.Top = sorted
	return s
}
