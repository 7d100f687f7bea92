// Package workerpool manages a pool of isolated execution units that run
// business logic registered as *named commands*, communicating with each
// other and with the controlling process (the *device*) exclusively
// through asynchronous message passing.
//
// ## How it works
//
// A `Pool` spawns execution units one at a time. Every new unit is
// cross-wired against every unit spawned before it with a fresh private
// channel pair, so after N spawns the mesh is fully connected: every unit
// reaches every sibling, and the controller, in exactly one hop.
//
// Business logic is seeded into each unit through its `WorkerSource`,
// typically a handful of `RegisterCommand` calls. From that point on, a
// command can be issued from the controller (`Pool.SendCommand`, always
// round-robin since the controller executes nothing itself) or from any
// unit (`Worker.SendCommand`, round-robin among siblings, or
// `Worker.SendCommandTo` for an explicit target: a sibling id, the unit's
// own id, or `DeviceThread`). Each invocation carries a correlation id;
// the executing unit posts the outcome back over the channel it arrived
// on, and the caller's pending-callback table settles the matching
// `promise.Future`.
//
// Every inbound message funnels through a single state machine that
// multiplexes the whole protocol over one channel type: identity
// assignment, sibling announcement, channel handoff, command invocation,
// command result, configuration push, and plain events for everything
// else.
//
// ## Guarantees users can lean on
//
//   - A command settles its future at most once; late or duplicate
//     responses for an already-settled correlation id are dropped.
//   - Payloads are structurally cloned before crossing a channel, so
//     units can never share mutable state by reference. Ownership of a
//     value can be *moved* instead by listing it as a transferable.
//   - Delivery within one private channel preserves sender order; no
//     ordering exists across channels or between concurrent commands.
//   - A handler failure on the executing unit always comes back as a
//     rejected future on the calling side, never as a crash anywhere.
//
// And one guarantee deliberately withheld: nothing times out. A command
// in flight toward a unit that terminates stays pending forever; callers
// needing bounded waits pass a deadline context to `Future.Wait`.
package workerpool
