// Package accounting holds the domain model for the external accounting
// synchronization subsystem: OAuth connections per organization, the durable
// sync job queue, canonical webhook events, and the error taxonomy the sync
// worker resolves into job state transitions.
package accounting
