// Package jobs tracks ingestion jobs in memory with a bounded number running
// at once and a FIFO queue for the rest. Observers receive every change;
// RedisMirror is one that publishes job snapshots to Redis.
package jobs
