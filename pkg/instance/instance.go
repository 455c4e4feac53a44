package instance

import (
	"os"

	"github.com/angelmondragon/backoffice-payments/pkg/env"
)

// GetID identifies the running process in logs and lock ownership. It prefers
// BACKOFFICE_INSTANCE_ID, then the container hostname variables, then os.Hostname.
func GetID() string {
	if id := env.First("BACKOFFICE_INSTANCE_ID", "K_REVISION", "HOSTNAME"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
