// Package server provides the BridgeServer, the TCP front of the scripting
// bridge: a connection acceptor, one worker goroutine per connection, and the
// start/stop lifecycle the hosting application drives.
//
// Workers never touch the scripting surface themselves. Every decoded request
// is handed to the bridge dispatcher, which marshals the handler invocation
// onto the host's main loop; the worker only frames requests and responses.
package server
