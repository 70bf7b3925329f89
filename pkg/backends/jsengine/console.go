package jsengine

import "github.com/rs/zerolog"

// printer routes the guest console to the backend logger.
type printer struct {
	logger zerolog.Logger
}

func (p *printer) Log(s string) {
	p.logger.Info().Str("stream", "console").Msg(s)
}

func (p *printer) Warn(s string) {
	p.logger.Warn().Str("stream", "console").Msg(s)
}

func (p *printer) Error(s string) {
	p.logger.Error().Str("stream", "console").Msg(s)
}
