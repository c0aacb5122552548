package executor

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"

	"github.com/tradewarden/warden/internal/domain"
)

const (
	intentKeyPrefix     = "trade_intent_"
	intentStatusPending = "pending"
	intentStatusDone    = "done"
	intentStatusFailed  = "failed"

	walSegmentThreshold = 1000
	walMaxSegments      = 100
	walDirPermissions   = 0o755
)

// tradeIntent is the write-ahead marker persisted before recordTrade. A
// pending intent surviving a restart means the process died between the
// marker and the store commit and must be reconciled against the store.
type tradeIntent struct {
	ID        string           `json:"id"`
	Status    string           `json:"status"`
	SignalSeq uint64           `json:"signal_seq"`
	Symbol    string           `json:"symbol"`
	Direction domain.Direction `json:"direction"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Price     decimal.Decimal  `json:"price"`
	Time      time.Time        `json:"time"`
	Error     string           `json:"error,omitempty"`
}

type intentJournal struct {
	wal     *gowal.Wal
	intents map[string]*tradeIntent
}

func openJournal(dir string) (*intentJournal, error) {
	if err := os.MkdirAll(dir, walDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "ensure journal directory %s", dir)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "log_",
		SegmentThreshold: walSegmentThreshold,
		MaxSegments:      walMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create intent journal WAL")
	}

	// replay: the last record per intent ID wins
	intents := make(map[string]*tradeIntent)
	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, intentKeyPrefix) {
			continue
		}
		var intent tradeIntent
		if err := json.Unmarshal(msg.Value, &intent); err != nil {
			continue
		}
		intentCopy := intent
		intents[intent.ID] = &intentCopy
	}

	return &intentJournal{wal: wal, intents: intents}, nil
}

// Prepare journals a pending intent before the store write.
func (j *intentJournal) Prepare(trade domain.TradeRecord) (*tradeIntent, error) {
	intent := &tradeIntent{
		ID:        uuid.New().String(),
		Status:    intentStatusPending,
		SignalSeq: trade.SignalSeq,
		Symbol:    trade.Symbol,
		Direction: trade.Direction,
		Quantity:  trade.Quantity,
		Price:     trade.Price,
		Time:      trade.Timestamp,
	}
	if err := j.persist(intent); err != nil {
		return nil, err
	}
	j.intents[intent.ID] = intent
	return intent, nil
}

// MarkDone clears the marker after a successful commit.
func (j *intentJournal) MarkDone(intent *tradeIntent) error {
	if intent == nil {
		return nil
	}
	intent.Status = intentStatusDone
	intent.Error = ""
	return j.persist(intent)
}

// MarkFailed records that the intent was abandoned.
func (j *intentJournal) MarkFailed(intent *tradeIntent, cause error) error {
	if intent == nil {
		return nil
	}
	intent.Status = intentStatusFailed
	if cause != nil {
		intent.Error = cause.Error()
	}
	return j.persist(intent)
}

// Pending returns intents left in the pending state by a previous run.
func (j *intentJournal) Pending() []*tradeIntent {
	pending := make([]*tradeIntent, 0)
	for _, intent := range j.intents {
		if intent.Status == intentStatusPending {
			pending = append(pending, intent)
		}
	}
	return pending
}

func (j *intentJournal) persist(intent *tradeIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return errors.Wrap(err, "marshal trade intent")
	}
	return j.wal.Write(j.wal.CurrentIndex()+1, intentKeyPrefix+intent.ID, payload)
}

func (j *intentJournal) Close() error {
	return j.wal.Close()
}
