package model

// SampleSink receives every sample as it is produced. Record is called on the
// capture goroutine and must not block.
type SampleSink interface {
	Record(s Sample)
}
