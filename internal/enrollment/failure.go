package enrollment

// Stage identifies where an enrollment attempt failed
type Stage string

const (
	StageFingerprint Stage = "fingerprint"
	StageEntropy     Stage = "entropy"
	StageSignature   Stage = "signature"
	StageNetwork     Stage = "network"
	StageResponse    Stage = "response"
	StagePersist     Stage = "persist"
	StageUnknown     Stage = "unknown"
)

// Failure is an enrollment failure. Its message is the underlying error's message,
// unchanged, so it can be shown to the user as is.
type Failure struct {
	Stage Stage
	Err   error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "Enrollment failed"
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}
