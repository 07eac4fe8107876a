package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildChain(n int) []Record {
	records := make([]Record, 0, n)
	prev := GenesisHash
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		r := Record{
			ID:        "id-" + string(rune('a'+i)),
			Seq:       int64(i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Identity:  "42",
			Action:    "open_app",
			Decision:  DecisionAllowed,
			Outcome:   OutcomeSuccess,
			PrevHash:  prev,
		}
		r.Hash = HashRecord(r)
		prev = r.Hash
		records = append(records, r)
	}
	return records
}

func TestHashRecord_DependsOnEveryField(t *testing.T) {
	base := buildChain(1)[0]
	h := HashRecord(base)
	assert.Len(t, h, 64)

	mutations := map[string]func(r *Record){
		"prev":      func(r *Record) { r.PrevHash = "x" },
		"seq":       func(r *Record) { r.Seq++ },
		"timestamp": func(r *Record) { r.Timestamp = r.Timestamp.Add(time.Microsecond) },
		"identity":  func(r *Record) { r.Identity = "99" },
		"decision":  func(r *Record) { r.Decision = DecisionDenied },
		"reason":    func(r *Record) { r.Reason = "x" },
		"duration":  func(r *Record) { r.DurationMs = 1 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			r := base
			mutate(&r)
			assert.NotEqual(t, h, HashRecord(r))
		})
	}

	// граница полей не сдвигается: "ab"+"c" и "a"+"bc" дают разные хеши
	a, b := base, base
	a.Identity, a.MessageID = "ab", "c"
	b.Identity, b.MessageID = "a", "bc"
	assert.NotEqual(t, HashRecord(a), HashRecord(b))
}

func TestVerifyChain_Valid(t *testing.T) {
	assert.NoError(t, VerifyChain(nil))
	assert.NoError(t, VerifyChain(buildChain(5)))

	// хвост журнала проверяется от своего PrevHash
	assert.NoError(t, VerifyChain(buildChain(5)[2:]))
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(rs []Record) []Record
		seq    int64
	}{
		{"edited field", func(rs []Record) []Record { rs[2].Decision = DecisionDenied; return rs }, 3},
		{"deleted record", func(rs []Record) []Record { return append(rs[:1], rs[2:]...) }, 3},
		{"reordered", func(rs []Record) []Record { rs[1], rs[2] = rs[2], rs[1]; return rs }, 3},
		{"rehashed but unlinked", func(rs []Record) []Record {
			rs[1].Reason = "edited"
			rs[1].Hash = HashRecord(rs[1])
			return rs
		}, 3},
		{"forged genesis", func(rs []Record) []Record { rs[0].PrevHash = "f00"; return rs }, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyChain(tt.mutate(buildChain(4)))
			require.Error(t, err)
			var cErr *ChainError
			require.True(t, errors.As(err, &cErr))
			assert.Equal(t, tt.seq, cErr.Seq)
		})
	}
}
