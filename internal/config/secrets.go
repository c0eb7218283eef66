package config

import "maps"

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging and printing. Slices and maps are copied so the result can be
// modified freely.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Oracle.Sources = append([]string(nil), cfg.Oracle.Sources...)
	out.Oracle.BookSources = append([]string(nil), cfg.Oracle.BookSources...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)

	out.Venues = make(map[string]VenueConfig, len(cfg.Venues))
	for id, v := range cfg.Venues {
		if v.Headers != nil {
			headers := maps.Clone(v.Headers)
			for k := range headers {
				headers[k] = redacted
			}
			v.Headers = headers
		}
		out.Venues[id] = v
	}
	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
