package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the resolved provider setup
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("Smeta", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("llm_provider", string(config.LLM.Provider)).
		Str("ocr_provider", string(config.OCR.Provider)).
		Str("storage", config.Storage.Type).
		Bool("production", config.IsProduction()).
		Msg("Smeta starting")
}
