// Command studyreel is the operator CLI for the StudyReel pipeline. It
// manages the job queue, runs the daemon in the foreground, and reports
// daemon, queue, and stage health.
package main
