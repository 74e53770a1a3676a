// Package snowflake generates 63-bit time-ordered identifiers for primary
// keys: 41 bits of milliseconds since the epoch, 10 bits of worker id and
// 12 bits of per-millisecond sequence.
package snowflake

import (
	"sync"
	"time"

	"github.com/HandsomeChen0407/cjdb/errors"
)

const (
	workerIdBits  = 10
	sequenceBits  = 12
	maxWorkerId   = (1 << workerIdBits) - 1
	sequenceMask  = (1 << sequenceBits) - 1
	timestampSift = workerIdBits + sequenceBits
)

// epoch is 2020-01-01T00:00:00Z in milliseconds.
const epoch = int64(1577836800000)

type CJSnowflakeGenerator struct {
	mutex      sync.Mutex
	workerId   int64
	lastMillis int64
	sequence   int64
	nowMillis  func() int64
}

func NewGenerator(workerId int64) (*CJSnowflakeGenerator, error) {
	if workerId < 0 || workerId > maxWorkerId {
		return nil, errors.Errorf("SNOWFLAKE_WORKER_ID_OUT_OF_RANGE:%d", workerId)
	}
	return &CJSnowflakeGenerator{
		workerId: workerId,
		nowMillis: func() int64 {
			return time.Now().UnixMilli()
		},
	}, nil
}

// Next returns the next identifier. It blocks for under a millisecond when
// the per-millisecond sequence overflows, and refuses to go backwards when
// the wall clock does.
func (g *CJSnowflakeGenerator) Next() (int64, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := g.nowMillis()
	if now < g.lastMillis {
		return 0, errors.Errorf("SNOWFLAKE_CLOCK_MOVED_BACKWARDS:%d", g.lastMillis-now)
	}
	if now == g.lastMillis {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			for now <= g.lastMillis {
				now = g.nowMillis()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastMillis = now

	id := ((now - epoch) << timestampSift) | (g.workerId << sequenceBits) | g.sequence
	return id, nil
}

var Default *CJSnowflakeGenerator

func init() {
	Default, _ = NewGenerator(1)
}

// SetDefaultWorkerId replaces the process-wide generator. Call it once at
// startup, before any id is handed out.
func SetDefaultWorkerId(workerId int64) error {
	g, err := NewGenerator(workerId)
	if err != nil {
		return err
	}
	Default = g
	return nil
}
