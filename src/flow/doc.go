// Package flow implements the flow state machine.
//
// A flow is a piece of multi-party logic that exchanges messages with flows
// on other nodes over sessions. Flow logic is written as an explicit state
// machine: every call to Logic.Resume runs the logic up to its next
// suspension point (send, receive, sleep, subflow call, asynchronous
// operation or completion) and returns a Suspension describing what it waits
// for. The logic value itself, including its resume point, is serialized into
// a Checkpoint that is persisted at every suspension point, so a flow
// survives a node restart and resumes exactly once from its last checkpoint.
//
// The Manager runs every flow as a fiber: an actor with its own FIFO event
// queue, scheduled on a shared worker pool. Events are turned into pure
// transitions (new state, actions, continuation) which are handed to a
// TransitionExecutor. Executors are composed from Interceptors with Chain;
// the base executor runs the actions through an ActionExecutor, which always
// persists a checkpoint before sending the messages it carries.
package flow
