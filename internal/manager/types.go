package manager

// InitState is one phase of the initialization state machine. Transitions
// are strictly forward except for targeted retry, which resumes from the
// last-failed state.
type InitState string

const (
	StateNotInitialized     InitState = "not_initialized"
	StateCheckingModel      InitState = "checking_model"
	StateDownloadingModel   InitState = "downloading_model"
	StateExtractingModel    InitState = "extracting_model"
	StateInitializingEngine InitState = "initializing_engine"
	StateCreatingSession    InitState = "creating_session"
	StateWarmingUp          InitState = "warming_up"
	StateReady              InitState = "ready"
	StateError              InitState = "error"
)

// stateOrdinal orders states for the metrics gauge and monotonicity checks.
func stateOrdinal(s InitState) int {
	switch s {
	case StateNotInitialized:
		return 0
	case StateCheckingModel:
		return 1
	case StateDownloadingModel:
		return 2
	case StateExtractingModel:
		return 3
	case StateInitializingEngine:
		return 4
	case StateCreatingSession:
		return 5
	case StateWarmingUp:
		return 6
	case StateReady:
		return 7
	default:
		return -1
	}
}

// InitProgress is a value snapshot of initialization, replaced wholesale on
// every phase transition. Consumers observe it as a continuously-updated
// signal: late subscribers see only the latest value, then updates.
type InitProgress struct {
	State   InitState
	Message string
	// Progress is normalized overall progress in [0,1], monotonically
	// non-decreasing within one attempt.
	Progress float64
	// Err carries error detail when State is StateError.
	Err string
	// CurrentPath is the file or URL currently being processed, when known.
	CurrentPath string
	// FailedStep records the state that last failed, driving targeted retry.
	FailedStep InitState
}

// Update is one emission of a generation stream: the cumulative text so
// far, or a terminal event carrying the final text or an error.
type Update struct {
	Text string
	Done bool
	Err  error
}
