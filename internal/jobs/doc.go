// Package jobs keeps the registry of scheduled and on-demand work.
//
// A job moves between three states. Scheduled jobs become eligible once their
// next run time passes, MarkRunning claims them, and Complete or Fail returns
// them to scheduled. Jobs that keep failing past the configured threshold are
// paused until Enable is called. Schedules are either plain intervals such as
// "6h" or standard cron expressions; an empty schedule means the job only runs
// when triggered.
package jobs
