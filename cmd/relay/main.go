// Command relay runs the WhatsApp ↔ BLiP relay.
//
//	@title						WhatsApp ↔ BLiP relay
//	@version					1.0
//	@description				Relays WhatsApp Cloud API webhooks to BLiP bots and bot replies back to WhatsApp.
//	@BasePath					/
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/wa-blip-relay/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("relay")
		os.Exit(1)
	}
}
