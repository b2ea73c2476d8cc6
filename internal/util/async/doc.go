// Package async runs independent tasks concurrently behind a join barrier.
//
// [RunAll] starts one goroutine per task, waits for every one of them and
// returns each task's outcome in input order. A failing or panicking task
// never stops its siblings. [RunParallel] is the error-only shorthand.
package async
