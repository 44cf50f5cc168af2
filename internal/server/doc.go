// Package server exposes a session manager over HTTP.
//
// # API Endpoints
//
//   - GET /health: liveness
//   - GET /session: sessions with summary
//   - GET /session/{name}: one session summary
//   - GET /session/{name}/message: the history
//   - GET /session/{name}/context: token total and cache checkpoints
//   - POST /session/{name}/message: run a turn, synchronously or in the background
//   - POST /session/{name}/abort: interrupt the turn in flight
//   - POST /session/{name}/reduce: compress the history
//   - POST /session/{name}/done: finalize the task and store facts
//   - PATCH /session/{name}: switch model or role
//   - DELETE /session/{name}: delete the session and its log
//   - GET /server: tool server health
//   - POST /server/{name}/restart: restart a stdin tool server
//   - GET /model: the model table
//   - GET /event: every event as Server-Sent Events
//
// A turn run synchronously is bound to its request: a client that goes away
// interrupts it like Abort would.
package server
