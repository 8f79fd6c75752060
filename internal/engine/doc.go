// Package engine runs task batches asynchronously. A Dispatcher persists each
// batch, hands it to the sequential or parallel executor, records every task
// result in the store as it is collected, and publishes progress events to an
// EventBroker for real-time streaming.
package engine
