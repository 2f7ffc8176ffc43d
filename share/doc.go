// Package pdshare holds the ambient plumbing shared by the tunnel packages: a leveled,
// prefix-forking Logger, a ShutdownHelper for objects with asynchronous lifetimes, and
// connection counters.
package pdshare
