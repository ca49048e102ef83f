// Package progress reports the progress of long transfers, drawing a bar on
// terminals and falling back to periodic log lines elsewhere.
package progress
