// Package events defines the lead lifecycle events emitted on the event bus.
//
// Available event types:
//   - LeadUpdate: a lead changed state or a round finished
package events
