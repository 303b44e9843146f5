// Package wire holds the QAPI wire envelope shared by QMP and the guest agent.
//
// Outgoing commands are encoded as
//
//	{"execute":"NAME","arguments":{...},"id":N}
//
// with "exec-oob" in place of "execute" for out-of-band commands. Incoming
// lines are either replies ({"return":...} or {"error":{...}}) or events
// ({"event":...,"data":...,"timestamp":{...}}).
package wire
