// Command recflow manages recordings moving through the download, processing
// and upload pipeline.
//
// One-shot commands (add, list, show, report, retry, ...) open the SQLite
// store directly and log decisions to the rotating log file. The serve
// command runs the Redis report intake and the stale-work watchdog as a
// single long-lived process.
package main
