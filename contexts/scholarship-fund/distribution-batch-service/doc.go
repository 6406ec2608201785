// Package distributionbatch implements the scholarship distribution batch
// workflow inside the scholarship-fund context.
//
// The module owns the batch lifecycle (create, approve, execute), the
// proportional allocation snapshot taken at creation time, and the polling
// change-notification protocol board members use to stay in sync. Business
// rules live in the application/domain layers; storage, presence, identity
// and transport concerns sit behind ports and adapters.
package distributionbatch
