// Package pdtunnel multiplexes pydev debugger connections over one duplex
// byte stream shared by two processes.
//
// Each side runs a Dispatcher: a single goroutine that waits for readiness on
// every registered Processor (the PipeTransport, TunnelServers and
// TunnelClients) and ticks ServerMonitors once per pass. Frames on the pipe are
// lines of the form "<local_port>\t<remote_port>\t<payload>"; a payload that is
// exactly start_client, stop_client, start_server or stop_server is a control
// line, anything else is data for the client with that key.
package pdtunnel
