package transcoder

import (
	"reflect"
	"sync"
)

const (
	// Pool limits to prevent memory bloat
	poolMaxQueue  = 4096
	poolInitQueue = 64
)

// traversal queue pool
var queuePool = sync.Pool{
	New: func() any {
		q := make([]reflect.Value, 0, poolInitQueue)
		return &q
	},
}

func getQueue() *[]reflect.Value {
	return queuePool.Get().(*[]reflect.Value)
}

func putQueue(q *[]reflect.Value) {
	if q == nil || cap(*q) > poolMaxQueue {
		return // reject oversized
	}
	clear(*q)
	*q = (*q)[:0]
	queuePool.Put(q)
}
