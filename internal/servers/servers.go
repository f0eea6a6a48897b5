// Package servers maps manifest server names to task entry functions.
package servers

import (
	"github.com/emberos/ember/internal/infrastructure/logging"
	"github.com/emberos/ember/internal/kernel"
	"github.com/emberos/ember/internal/servers/echo"
)

// Registry returns the entry function for every server the daemon can
// boot. Manifest validation rejects names that are not in here.
func Registry(log *logging.Logger) map[string]kernel.EntryFunc {
	return map[string]kernel.EntryFunc{
		"echo": echo.Entry(log),
	}
}
