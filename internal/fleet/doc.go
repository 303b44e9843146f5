// Package fleet manages connections to several QEMU instances at once.
//
// # Manager
//
// The Manager tracks named endpoints, each a negotiated qapi.Conn to a QMP
// monitor or a guest agent:
//
//	mgr := fleet.NewManager(journal, logger)
//	err := mgr.ConnectAll(ctx, cfg)
//
// Key operations:
//
//   - Add(name, conn): Register an already negotiated connection
//   - Connect(ctx, name, endpointCfg): Dial and register one endpoint
//   - Remove(name): Close and forget an endpoint
//   - Execute(ctx, name, command, args, oob): Run a raw command on an endpoint
//   - Watch(ctx, eventNames...): Merge QMP events from every monitor
//   - List(): Describe all connected endpoints
//
// # Disconnection
//
// An endpoint whose reader stops (the peer hung up, or sent something
// undecodable) is dropped from the manager automatically. Commands still in
// flight on it fail with qapi.ErrDisconnected.
//
// # Journaling
//
// When the manager has a store.Journal, Execute records every command with
// its outcome and latency, and Watch records every event it forwards. A
// failed journal write is logged and never fails the command.
//
// # Thread Safety
//
// Manager is safe for concurrent use. Commands on different endpoints never
// wait for each other.
package fleet
