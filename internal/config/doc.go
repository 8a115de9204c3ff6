// Package config handles configuration loading for clawswarm.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CLAWSWARM_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/clawswarm/config.yaml
//  3. ~/.config/clawswarm/config.yaml
//
// Files ending in .toml are decoded as TOML, everything else as YAML. When no
// file exists the CLI falls back to FromEnv.
//
// # Environment Variables
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CLAWSWARM_JWT_SECRET}"
//
// After decoding, the deployment variables are overlaid when set:
// GATEWAY_HOST, GATEWAY_PORT, GATEWAY_TLS, GATEWAY_TLS_CERT_FILE,
// GATEWAY_TLS_KEY_FILE, TELEGRAM_BOT_TOKEN, DISCORD_BOT_TOKEN,
// DISCORD_CHANNEL_IDS, WHATSAPP_ACCESS_TOKEN, WHATSAPP_PHONE_NUMBER_ID,
// AGENT_MODEL, AGENT_MEMORY_FILE, AGENT_MEMORY_MAX_CHARS, OPENAI_API_KEY,
// OPENAI_BASE_URL, SWARMS_API_KEY, WALLET_PRIVATE_KEY and EXA_API_KEY.
//
// # Durations
//
// Duration values use Go's time.ParseDuration syntax:
//
//	gateway:
//	  fetch_interval: "2s"
//	  backoff_base: "1s"
//	  backoff_max: "1m"
//	runner:
//	  tick_timeout: "2m"
//
// # Platforms
//
// A platform without credentials is disabled, not an error. PlatformStatuses reports
// each one with an ErrFatalConfig reason so the gateway can log it once.
//
//	platforms:
//	  telegram:
//	    bot_token: "${TELEGRAM_BOT_TOKEN}"
//	  discord:
//	    bot_token: "${DISCORD_BOT_TOKEN}"
//	    channel_ids: ["123", "456"]
//	  whatsapp:
//	    access_token: "${WHATSAPP_ACCESS_TOKEN}"
//	    phone_number_id: "${WHATSAPP_PHONE_NUMBER_ID}"
//	    verify_token: "${WHATSAPP_VERIFY_TOKEN}"
//	  matrix:
//	    homeserver: "https://matrix.org"
//	    user_id: "@clawswarm:matrix.org"
//	    access_token: "${MATRIX_ACCESS_TOKEN}"
package config
