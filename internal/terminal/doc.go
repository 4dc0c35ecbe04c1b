// Package terminal connects a browser WebSocket to a PTY-backed process
// running the interactive tool as the session's local account.
//
// # Wire protocol
//
// Every WebSocket message is a JSON text frame of type [Message]:
//
//	server -> client  {"type":"stdout","data":"..."}   process output
//	server -> client  {"type":"error","data":"..."}    auth or setup failure
//	client -> server  {"type":"stdin","data":"..."}    keystrokes
//	client -> server  {"type":"resize","cols":N,"rows":M}
//
// Anything else from the client, including malformed JSON, is dropped.
//
// # Lifecycle
//
//  1. [Bridge.Attach] resolves the token through the session store. Invalid
//     tokens get an error message and close code 1008; nothing is spawned.
//  2. The account is provisioned, the tool binary is checked and one
//     [PTYProcess] is started and attached to the session. A session that
//     already owns a live process refuses the connection with close code 4409.
//  3. Output is relayed by a single goroutine so chunk order is preserved.
//  4. Client disconnect kills the process (SIGTERM, SIGKILL after
//     [DefaultGracePeriod]). Process exit closes the WebSocket.
//
// # Log Prefixes
//
// All log lines use the [terminal] prefix.
package terminal
