// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for the dispatch core: a bounded worker Executor,
// a per-channel SerialQueue that keeps callbacks of one owner exclusive,
// and a heap-driven Scheduler for delayed and periodic jobs with a separate
// delivery pool.
package concurrency
