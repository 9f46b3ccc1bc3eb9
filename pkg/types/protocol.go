package types

// ResponseKind tags the variant of a JobResponse.
type ResponseKind string

const (
	// ResponseAssignment carries a batch of trials for the worker to execute.
	ResponseAssignment ResponseKind = "assignment"
	// ResponseStop tells the worker to shut down; the coordinator sends it
	// exactly once per worker.
	ResponseStop ResponseKind = "stop"
)

// JobRequest is sent by a worker to the coordinator to pull its next batch.
// One request is sent per cycle; the worker blocks until the matching
// response arrives.
type JobRequest struct {
	// WorkerID identifies the requesting worker (its rank).
	WorkerID int `json:"worker_id"`

	// BatchSize is the maximum number of trials the worker accepts.
	BatchSize int `json:"batch_size"`
}

// JobResponse is the coordinator's answer to exactly one JobRequest.
type JobResponse struct {
	// Kind selects the variant.
	Kind ResponseKind `json:"kind"`

	// Trials is the assigned batch. Set only when Kind is
	// ResponseAssignment, and never longer than the request's BatchSize.
	Trials []*Trial `json:"trials,omitempty"`
}

// NewAssignment builds an assignment response.
func NewAssignment(trials []*Trial) *JobResponse {
	return &JobResponse{Kind: ResponseAssignment, Trials: trials}
}

// NewStop builds a stop response.
func NewStop() *JobResponse {
	return &JobResponse{Kind: ResponseStop}
}
