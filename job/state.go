package job

// State is the lifecycle state of a job.
type State uint8

const (
	Pending State = iota
	InFlight
	PartiallyDone
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in-flight"
	case PartiallyDone:
		return "partially-done"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// PassReport describes one finished pass.
type PassReport struct {
	Pass      int
	Kernels   int // submitted in this pass
	Completed int // reported complete by native code
	Committed int // written back
	Allocated int // objects allocated natively
	Total     int // committed across the job so far
	Capacity  uint32
	Threads   int
	Status    int32
	Exhausted bool
	Err       error
}

// PassObserver receives a report after every pass. It runs on the driver's
// goroutine.
type PassObserver interface {
	OnPass(PassReport)
}

// ObserverFunc adapts a function to PassObserver.
type ObserverFunc func(PassReport)

func (f ObserverFunc) OnPass(r PassReport) { f(r) }
