package envelope

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// EchoHandler returns the request body unchanged, used to exercise the
// gateway's chunking/reassembly/reliability paths end to end without any
// application-specific logic.
func EchoHandler() CommandHandler {
	return CommandHandlerFunc(func(ctx context.Context, body []byte) ([]byte, error) {
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	})
}

// DigestHandler returns the hex-encoded SHA-256 of the request body,
// useful for verifying large transfers arrived byte-for-byte without
// echoing the whole payload back over the mesh link.
func DigestHandler() CommandHandler {
	return CommandHandlerFunc(func(ctx context.Context, body []byte) ([]byte, error) {
		sum := sha256.Sum256(body)
		return []byte(hex.EncodeToString(sum[:])), nil
	})
}

// HealthReporter is the narrow slice of health.Monitor the health command
// handler needs, kept as an interface so the envelope package does not
// import internal/health directly.
type HealthReporter interface {
	Healthy() bool
}

// healthReport is the JSON body returned by HealthHandler.
type healthReport struct {
	Healthy bool `json:"healthy"`
}

// HealthHandler reports whether the local gateway host is under resource
// pressure, per the HealthReporter (normally a *health.Monitor).
func HealthHandler(reporter HealthReporter) CommandHandler {
	return CommandHandlerFunc(func(ctx context.Context, body []byte) ([]byte, error) {
		return json.Marshal(healthReport{Healthy: reporter.Healthy()})
	})
}
