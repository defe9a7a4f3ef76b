// Package config loads the mcpbridge configuration.
//
// Configuration is resolved in three layers, later layers winning:
//
//  1. Built-in defaults (Default)
//  2. A configuration file: TOML, YAML or JSON, chosen by extension
//  3. Environment variables
//
// Environment variables use the MCPBRIDGE_ prefix (MCPBRIDGE_LLM_MODEL,
// MCPBRIDGE_SERVER_COMMAND, ...). A few well-known unprefixed variables are
// honoured too, such as OPENAI_API_KEY and ALFRESCO_URL, so existing
// deployments keep working; a prefixed variable always beats its unprefixed
// twin.
//
// Watch reloads the file when it changes on disk and hands the new
// configuration to a callback.
package config
