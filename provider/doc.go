// Package provider defines the capability boundary between the execution
// engine and external generation services. Providers use an asynchronous
// submit/poll protocol, so the Capability interface is pollable rather than
// call-and-block: failures can surface immediately at submit time or later
// while polling.
//
// The engine selects an implementation through the model Registry and never
// branches on model names itself.
package provider
