// Licensed under the MIT License. See LICENSE file in the project root for details.

package node

// BumpState atomically increments the state word by one and returns the
// prior value. The reclaimer's safe-free phase uses this as a double-mark
// guard: a node enters the garbage list at Collecting (1); the first
// BumpState call, in the safe-free phase of the same gc cycle that enlisted
// it, advances it to WaitingDelete (2) and returns Collecting; the next gc
// window's BumpState advances it to 3 and returns WaitingDelete, which is
// the signal that two break-time-separated sweeps have observed the node
// and the slot is safe to free.
func (n *Node) BumpState() State {
	return State(n.state.Add(1) - 1)
}
