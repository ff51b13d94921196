// Package cache provides the permission snapshot cache backends.
//
// Two implementations satisfy iam.Cache:
//
//   - RedisCache stores snapshots in Redis so every replica shares one view.
//     Tenant eviction walks keys with SCAN and deletes them in batches.
//   - MemoryCache is a bounded, expiring LRU for single-process deployments
//     and tests.
//
// # Usage
//
//	c, err := cache.New(cfg.Cache)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	svc := iam.NewService(repos, c)
//
// A miss is reported as (nil, nil). Errors are reserved for backend failures,
// which the permission service treats as misses.
package cache
