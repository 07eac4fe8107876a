package audit

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// GenesisHash: PrevHash первой записи журнала.
var GenesisHash = strings.Repeat("0", 64)

// HashRecord считает BLAKE3 от предыдущего хеша и полей записи.
// Поле Hash в расчете не участвует.
func HashRecord(r Record) string {
	var b strings.Builder
	fields := []string{
		r.PrevHash,
		strconv.FormatInt(r.Seq, 10),
		r.ID,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Identity,
		r.MessageID,
		r.Action,
		r.IntentSummary,
		string(r.Decision),
		string(r.Outcome),
		r.Reason,
		strconv.FormatInt(r.DurationMs, 10),
	}
	for _, f := range fields {
		// длина перед значением, чтобы границы полей нельзя было сдвинуть
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(':')
		b.WriteString(f)
	}
	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ChainError указывает на первую запись, где цепочка нарушена.
type ChainError struct {
	Seq    int64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at seq %d: %s", e.Seq, e.Reason)
}

// VerifyChain проверяет непрерывность номеров, связность и хеши записей,
// упорядоченных по Seq. Пустой журнал корректен.
func VerifyChain(records []Record) error {
	prev := GenesisHash
	var prevSeq int64
	for i, r := range records {
		if i == 0 {
			prevSeq = r.Seq - 1
			if r.Seq == 1 && r.PrevHash != GenesisHash {
				return &ChainError{Seq: r.Seq, Reason: "first record does not start from genesis"}
			}
			// журнал, прочитанный с середины, начинаем с его PrevHash
			prev = r.PrevHash
		}
		if r.Seq != prevSeq+1 {
			return &ChainError{Seq: r.Seq, Reason: fmt.Sprintf("expected seq %d", prevSeq+1)}
		}
		if r.PrevHash != prev {
			return &ChainError{Seq: r.Seq, Reason: "prev_hash does not match previous record"}
		}
		if HashRecord(r) != r.Hash {
			return &ChainError{Seq: r.Seq, Reason: "hash mismatch"}
		}
		prev, prevSeq = r.Hash, r.Seq
	}
	return nil
}
