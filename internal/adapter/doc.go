// Package adapter defines the contracts platform integrations implement:
// Adapter for inbound fetches and Sender for replies. Platform packages live
// in subdirectories and share the helpers here for error classification and
// push-fed buffering.
package adapter
