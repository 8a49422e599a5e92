// Package httpapi exposes the pipeline engine over HTTP: CRUD and control
// commands for pipelines plus a Server-Sent Events stream of step updates.
package httpapi
