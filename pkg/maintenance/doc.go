// Package maintenance runs the background jobs of the IAM worker: locking
// expired trial entitlements and archiving audit records past retention.
//
//	sched := maintenance.NewScheduler(logger, 5*time.Minute)
//	sched.Add("*/15 * * * *", maintenance.NewTrialExpiryJob(svc, logger))
//	sched.Add("0 3 * * *", maintenance.NewAuditArchiveJob(store, archive, policy, logger))
//	sched.Start()
//	defer sched.Stop(ctx)
package maintenance
