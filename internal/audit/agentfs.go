package audit

/*
Файл agentfs.go, асинхронный журнал аудита шлюза.

- Non-blocking Logging: Log никогда не ждет хранилище. Запись уходит в буферизованный
  канал; при переполнении она сбрасывается (Load Shedding) и попадает в операционный лог.
- Single Writer: один воркер проставляет Seq и цепочку BLAKE3-хешей, поэтому порядок
  номеров совпадает с порядком приема записей.
- Batching: пакетная запись по размеру пачки или по таймеру.
- Drain Pattern: Stop закрывает вход и ждет, пока воркер допишет остаток буфера.
- Ошибка хранилища не откатывает уже совершенное действие. Пачка остается у воркера
  и повторяется на следующем тике; после MaxFlushAttempts неудач она сбрасывается,
  а цепочка возвращается к последней сохраненной записи.
*/

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняются записи.
type StorageInterface interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, records []Record) error
	// Last: последняя запись журнала, чтобы продолжить цепочку после рестарта
	Last(ctx context.Context) (Record, bool, error)
}

// Reader: чтение журнала для CLI и API.
type Reader interface {
	Tail(ctx context.Context, n int) ([]Record, error)
	ReadAll(ctx context.Context) ([]Record, error)
}

type Auditor interface {
	Log(r Record)
}

// Observer получает сигналы о заполненности буфера и потерях (метрики).
type Observer interface {
	ObserveAuditBuffer(n int)
	ObserveAuditDrop()
}

type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// MaxFlushAttempts: сколько раз подряд пробуем записать пачку, прежде чем сбросить ее
	MaxFlushAttempts int
}

type AgentFS struct {
	ch       chan Record // Буфер для асинхронности
	repo     StorageInterface
	logger   *zap.Logger
	observer Observer
	opts     Options
	wg       sync.WaitGroup

	// closed под mu: Log держит RLock на время отправки, Stop берет Lock перед close(ch)
	mu     sync.RWMutex
	closed bool

	// состояние цепочки, меняет только воркер
	seq      int64
	lastHash string
	// голова цепочки, подтвержденная хранилищем
	storedSeq  int64
	storedHash string
	now        func() time.Time
}

func NewAgentFS(repo StorageInterface, opts Options, observer Observer, logger *zap.Logger) *AgentFS {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	if opts.MaxFlushAttempts <= 0 {
		opts.MaxFlushAttempts = 5
	}
	return &AgentFS{
		ch:       make(chan Record, opts.BufferSize),
		repo:     repo,
		logger:   logger.Named("agentfs"),
		observer: observer,
		opts:     opts,
		lastHash: GenesisHash,
		now:      time.Now,
	}
}

// Start читает голову цепочки из хранилища и запускает воркер.
func (fs *AgentFS) Start(ctx context.Context) error {
	last, ok, err := fs.repo.Last(ctx)
	if err != nil {
		return fmt.Errorf("read audit head: %w", err)
	}
	if ok {
		fs.seq, fs.lastHash = last.Seq, last.Hash
	}
	fs.storedSeq, fs.storedHash = fs.seq, fs.lastHash
	fs.logger.Info("auditor started", zap.Int64("seq", fs.seq))

	fs.wg.Add(1)
	go fs.worker()
	return nil
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (fs *AgentFS) Stop() {
	fs.mu.Lock()
	if fs.closed {
		fs.mu.Unlock()
		return
	}
	fs.closed = true
	fs.logger.Info("stopping auditor: closing channel and flushing buffer...")
	close(fs.ch) // Новые записи больше не принимаются
	fs.mu.Unlock()

	fs.wg.Wait() // Ждем, пока воркер вычитает остатки и вызовет flush()
	fs.logger.Info("auditor stopped gracefully")
}

// Log ставит запись в очередь и сразу возвращается.
func (fs *AgentFS) Log(r Record) {
	// Убеждаемся, что таймстемп всегда проставлен
	if r.Timestamp.IsZero() {
		r.Timestamp = fs.now()
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.closed {
		fs.drop(r, "audit record dropped: auditor is stopping")
		return
	}

	// используем стратегию Load Shedding (сброс нагрузки)
	select {
	case fs.ch <- r:
		if fs.observer != nil {
			fs.observer.ObserveAuditBuffer(len(fs.ch))
		}
	default:
		fs.drop(r, "audit_buffer_overflow")
	}
}

func (fs *AgentFS) drop(r Record, msg string) {
	if fs.observer != nil {
		fs.observer.ObserveAuditDrop()
	}
	// Чтобы не терять след в критических ситуациях, пишем запись в операционный лог
	fs.logger.Error(msg,
		zap.String("id", r.ID),
		zap.String("identity", r.Identity),
		zap.String("action", r.Action),
		zap.String("decision", string(r.Decision)),
		zap.String("outcome", string(r.Outcome)),
	)
}

func (fs *AgentFS) worker() {
	defer fs.wg.Done()

	batch := make([]Record, 0, fs.opts.BatchSize)
	failures := 0
	ticker := time.NewTicker(fs.opts.FlushInterval)
	defer ticker.Stop()

	flush := func(final bool) {
		if len(batch) == 0 {
			return
		}
		// Используем Background, так как основной контекст может быть уже закрыт
		err := fs.repo.WriteBatch(context.Background(), batch)
		if err == nil {
			last := batch[len(batch)-1]
			fs.storedSeq, fs.storedHash = last.Seq, last.Hash
			batch = batch[:0]
			failures = 0
		} else {
			failures++
			fs.logger.Error("audit flush failed",
				zap.Int("count", len(batch)),
				zap.Int64("first_seq", batch[0].Seq),
				zap.Int("attempt", failures),
				zap.Error(err),
			)
			if final || failures >= fs.opts.MaxFlushAttempts {
				fs.abandon(batch)
				batch = batch[:0]
				failures = 0
			}
		}
		if fs.observer != nil {
			fs.observer.ObserveAuditBuffer(len(fs.ch))
		}
	}

	for {
		select {
		case r, ok := <-fs.ch:
			if !ok {
				// Канал закрыт в Stop(): остатки уже вычитаны, финальный сброс
				flush(true)
				fs.logger.Info("audit worker finished", zap.Int64("seq", fs.seq))
				return
			}
			batch = append(batch, fs.chain(r))
			// пока хранилище сбоит, порог растет: не долбим его на каждой записи
			if len(batch) >= fs.opts.BatchSize*(failures+1) {
				flush(false)
			}
		case <-ticker.C:
			flush(false)
		}
	}
}

// abandon сбрасывает несохраненную пачку и откатывает цепочку к сохраненной голове,
// чтобы следующие записи ссылались на то, что реально лежит в хранилище.
func (fs *AgentFS) abandon(batch []Record) {
	for _, r := range batch {
		fs.drop(r, "audit record dropped: store unavailable")
	}
	fs.seq, fs.lastHash = fs.storedSeq, fs.storedHash
}

// chain проставляет номер и хеши. Время округляется до микросекунд:
// столько хранит Postgres, иначе хеш не сойдется после чтения.
func (fs *AgentFS) chain(r Record) Record {
	fs.seq++
	r.Seq = fs.seq
	r.Timestamp = r.Timestamp.UTC().Truncate(time.Microsecond)
	r.PrevHash = fs.lastHash
	r.Hash = HashRecord(r)
	fs.lastHash = r.Hash
	return r
}
