package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizeStats(t *testing.T) {
	rows := []ActionCount{
		{Action: "read_file", Count: 3, Succeeded: 2},
		{Action: "open_app", Count: 5, Succeeded: 5},
		{Action: "list_files", Count: 3, Succeeded: 3},
		{Action: "screenshot", Count: 1, Succeeded: 0},
	}

	s := SummarizeStats(rows, 2)
	assert.Equal(t, int64(12), s.Total)
	assert.Equal(t, int64(10), s.Succeeded)
	assert.Equal(t, int64(2), s.Failed)
	assert.Equal(t, []ActionCount{
		{Action: "open_app", Count: 5, Succeeded: 5},
		{Action: "list_files", Count: 3, Succeeded: 3},
	}, s.Top)
	// исходный срез не трогаем
	assert.Equal(t, "read_file", rows[0].Action)

	empty := SummarizeStats(nil, 5)
	assert.Zero(t, empty.Total)
	assert.Empty(t, empty.Top)
}
