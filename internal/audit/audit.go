// Package audit batches operational records of order status transitions and
// writes them through pluggable processors. Feeding the pool is fire and
// forget; records are dropped when the channel is full rather than slowing a
// request down.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Record struct {
	Timestamp time.Time
	OrderID   string
	OldStatus string
	NewStatus string
	Endpoint  string
	Request   string
	Response  string
	Message   string
}

type PoolConfig struct {
	BatchSize   int
	Timeout     time.Duration
	ChannelSize int
}

type Processor interface {
	Process(batch []Record) error
}

type DBProcessor struct {
	db *sql.DB
}

func NewDBProcessor(db *sql.DB) *DBProcessor {
	return &DBProcessor{db: db}
}

func (p *DBProcessor) Process(batch []Record) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO audit_logs (timestamp, order_id, old_state, new_state, endpoint, request, response, message) VALUES `)

	params := []interface{}{}
	paramIndex := 1
	for i, rec := range batch {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)", paramIndex, paramIndex+1, paramIndex+2, paramIndex+3, paramIndex+4, paramIndex+5, paramIndex+6, paramIndex+7))
		paramIndex += 8
		params = append(params, rec.Timestamp, rec.OrderID, rec.OldStatus, rec.NewStatus, rec.Endpoint, rec.Request, rec.Response, rec.Message)
	}
	_, err := p.db.Exec(sb.String(), params...)
	if err != nil {
		return fmt.Errorf("audit db insert: %w", err)
	}
	return nil
}

// StdoutProcessor mirrors matching records to the log, optionally filtered by
// a substring of the message.
type StdoutProcessor struct {
	Filter string
	Logger *zap.Logger
}

func (p *StdoutProcessor) Process(batch []Record) error {
	for _, rec := range batch {
		if p.Filter != "" &&
			!strings.Contains(strings.ToLower(rec.Message), strings.ToLower(p.Filter)) {
			continue
		}
		p.Logger.Info("audit",
			zap.String("order_id", rec.OrderID),
			zap.String("old_status", rec.OldStatus),
			zap.String("new_status", rec.NewStatus),
			zap.String("message", rec.Message))
	}
	return nil
}

type WorkerPool struct {
	inputCh    chan Record
	processors []Processor
	batchSize  int
	timeout    time.Duration
	logger     *zap.Logger

	wg sync.WaitGroup
}

func NewWorkerPool(cfg PoolConfig, logger *zap.Logger, processors ...Processor) *WorkerPool {
	return &WorkerPool{
		inputCh:    make(chan Record, cfg.ChannelSize),
		processors: processors,
		batchSize:  cfg.BatchSize,
		timeout:    cfg.Timeout,
		logger:     logger,
	}
}

func (p *WorkerPool) Start(ctx context.Context, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker(ctx)
		}()
	}
}

func (p *WorkerPool) worker(ctx context.Context) {
	var batch []Record
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				p.processBatch(batch)
			}
			return
		case rec := <-p.inputCh:
			batch = append(batch, rec)
			if len(batch) >= p.batchSize {
				if !timer.Stop() {
					<-timer.C
				}
				p.processBatch(batch)
				batch = nil
				timer.Reset(p.timeout)
			}
		case <-timer.C:
			if len(batch) > 0 {
				p.processBatch(batch)
				batch = nil
			}
			timer.Reset(p.timeout)
		}
	}
}

func (p *WorkerPool) processBatch(batch []Record) {
	for _, proc := range p.processors {
		if err := proc.Process(batch); err != nil {
			p.logger.Warn("audit batch failed", zap.Error(err))
		}
	}
}

// Log queues a record without blocking; when the channel is full the record
// is dropped.
func (p *WorkerPool) Log(record Record) {
	select {
	case p.inputCh <- record:
	default:
		p.logger.Warn("audit channel full, dropping record")
	}
}

func (p *WorkerPool) Shutdown(cancelFunc context.CancelFunc) {
	cancelFunc()
	p.wg.Wait()
}
