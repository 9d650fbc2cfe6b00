package optical

// SessionState is the externally visible decode session state. No internal
// timer ever changes it; only Start, Stop and a decode fault move it.
type SessionState string

const (
	StateIdle             SessionState = "idle"
	StateScanning         SessionState = "scanning"
	StateError            SessionState = "error"
	StatePermissionDenied SessionState = "permission_denied"
)
