package ecs

import "runtime"

// shardCount returns the number of shards ForEachParallel fans out across.
func shardCount() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		return 1
	}
	return n
}
