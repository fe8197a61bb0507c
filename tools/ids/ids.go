package ids

import (
	"strconv"
	"sync"
	"time"
)

// Snowflake-style generator: 41 bits of millis since epoch, 10 bits node,
// 12 bits sequence. Used for connection IDs, which only need to be unique
// within the relay cluster.

type generator struct {
	mu       sync.Mutex
	epochMS  int64
	nodeID   int64 // 0~1023
	seq      int64 // 0~4095
	lastTSMS int64
}

var (
	defaultGen *generator
	once       sync.Once
)

func initDefault() {
	once.Do(func() {
		defaultGen = &generator{
			epochMS: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
			nodeID:  1,
		}
	})
}

func Generate() int64 {
	initDefault()
	return defaultGen.next()
}

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}

// SetNodeID sets the node part (0~1023); call once from main before serving.
func SetNodeID(nodeID int64) {
	initDefault()
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	defaultGen.nodeID = nodeID
}

func (g *generator) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		now := time.Now().UnixMilli()
		if now < g.lastTSMS {
			// Clock went backwards, wait it out.
			time.Sleep(time.Duration(g.lastTSMS-now) * time.Millisecond)
			continue
		}
		if now == g.lastTSMS {
			g.seq = (g.seq + 1) & 0xFFF
			if g.seq == 0 {
				// Sequence exhausted; spin until the next millisecond.
				for now <= g.lastTSMS {
					now = time.Now().UnixMilli()
				}
				g.lastTSMS = now
			}
		} else {
			g.seq = 0
			g.lastTSMS = now
		}
		ts := g.lastTSMS - g.epochMS
		return (ts << 22) | (g.nodeID << 12) | g.seq
	}
}
