package acquire

// Stage labels which phase of acquisition a Progress value belongs to.
// Percent ranges are independent per stage; the lifecycle layer remaps them
// into disjoint sub-ranges of overall initialization progress.
type Stage string

const (
	StageCopy     Stage = "copying"
	StageDownload Stage = "downloading"
	StageExtract  Stage = "extracting"
)

// Result is the sealed sum type emitted by Acquire. A run produces any
// number of Progress values followed by exactly one Success or Failure.
type Result interface{ isResult() }

// Progress reports percentage within the current stage, monotonically
// non-decreasing per stage.
type Progress struct {
	Stage   Stage
	Percent int
	// Path currently being read or written, when known.
	Path    string
	Message string
}

// Success carries the canonical model artifact path.
type Success struct {
	Path string
}

// Failure is the terminal error variant. Err carries diagnostic context via
// the package error types.
type Failure struct {
	Err error
}

func (Progress) isResult() {}
func (Success) isResult()  {}
func (Failure) isResult()  {}
