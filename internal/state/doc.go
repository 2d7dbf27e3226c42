// Package state holds the last known condition of every device, merged
// from the register frames the cloud delivers.
//
// A frame rarely carries the full register set, so updates are merges:
// only fields backed by a register present in the frame are refreshed,
// everything else keeps its previous value. Subscribers are notified
// synchronously once the merged state is consistent.
package state
