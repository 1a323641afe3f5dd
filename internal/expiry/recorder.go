package expiry

// Recorder observes what the components do. internal/metrics provides the
// exported implementation.
type Recorder interface {
	WatchRegistered(indexed bool)
	Removal(source Source)
	CleanupError(source Source)
	LiveEvent()
	LiveMalformed()
	LiveFiltered()
	PassCompleted(result PassResult)
}

// NopRecorder discards all observations.
type NopRecorder struct{}

func (NopRecorder) WatchRegistered(bool)     {}
func (NopRecorder) Removal(Source)           {}
func (NopRecorder) CleanupError(Source)      {}
func (NopRecorder) LiveEvent()               {}
func (NopRecorder) LiveMalformed()           {}
func (NopRecorder) LiveFiltered()            {}
func (NopRecorder) PassCompleted(PassResult) {}
