package report

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"io"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var monotonicPool = sync.Pool{
	New: func() any {
		var seed int64
		if err := binary.Read(cryptorand.Reader, binary.BigEndian, &seed); err != nil {
			seed = time.Now().UnixNano()
		}
		rand := mathrand.New(mathrand.NewSource(seed))
		inc := uint64(rand.Int63())
		return ulid.Monotonic(rand, inc)
	},
}

// NewRunID returns a ULID for a run started at t. IDs made in the same
// process sort in creation order.
func NewRunID(t time.Time) (ulid.ULID, error) {
	mono := monotonicPool.Get().(io.Reader)
	defer monotonicPool.Put(mono)

	return ulid.New(ulid.Timestamp(t), mono)
}
