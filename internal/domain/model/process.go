package model

// OutputStream tags a captured child-process line with its source pipe.
type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// ProcessResult is the transient outcome of a single command invocation.
// IsError is set by the outcome classifier, not by the exit code alone: the
// wrapped tools are known to return non-zero after fully succeeding.
type ProcessResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	IsError  bool
}

// ProgressEvent is produced per matched output line. A nil Percent means
// "no change, only a description update".
type ProgressEvent struct {
	Percent     *float64
	Description string
}
