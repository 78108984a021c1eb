// Command bunbase is the single-binary BunBase server: a schema-driven
// REST backend with authentication, row-level rules, lifecycle hooks, file
// uploads and realtime change notifications (see spec §1).
package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := Execute(); err != nil {
		log.Fatal().Err(err).Msg("bunbase exited with error")
		os.Exit(1)
	}
}
