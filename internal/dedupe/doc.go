// Package dedupe remembers message keys for a bounded window so that
// re-fetched messages are not ingested twice.
package dedupe
