// Package logger wraps zerolog behind a small structured logging interface.
//
// Console output is coloured and human readable; when a log file is configured
// every event is also written there as JSON. Each event carries the process
// run id so log lines can be matched with the run journal.
//
//	log := logger.GetLogger().WithField("component", "downloader")
//	log.InfoWithFields("batch finished", map[string]interface{}{
//	    "batch": 3,
//	    "completed": 100,
//	})
package logger
