// Package render drives the preview rendering stage. A dispatcher
// assigns queued jobs to a fixed pool of render engine slots, bounds
// each invocation with the stage budget, and records outcomes on the
// job record. Inputs are staged locally before the engine is invoked.
package render
