package monitoring

import (
	"github.com/rs/zerolog/log"
)

// Alert reports an operational problem that needs human attention
// (logs for now; wired to a pager later).
func Alert(message string, labels map[string]string) {
	log.Error().
		Str("alert", message).
		Fields(labels).
		Msg("ALERT: Provisioning issue detected")
}
