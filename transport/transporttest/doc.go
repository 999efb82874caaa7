// Package transporttest provides an in-memory connection for deterministic
// tests of code that sends through transport.Sender and polls
// transport.CongestionSource.
//
// A SimulatedConn accepts frames until its capacity is reached and then
// reports transport.ErrWouldBlock, like a full outbox. Every send attempt is
// recorded in a delivery log for verification:
//
//	conn := transporttest.NewSimulatedConn()
//	conn.SetCapacity(1)
//	_ = conn.Send(a) // delivered
//	_ = conn.Send(b) // transport.ErrWouldBlock
//	conn.SetCapacity(transporttest.Unlimited)
//
// Congestion snapshots are scripted with SetCongestion.
package transporttest
