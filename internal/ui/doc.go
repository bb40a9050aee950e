// Package ui implements the live watch dashboard using bubbletea's Elm architecture.
//
// The [Model] polls the monitor for status on a fixed tick and renders the
// playlist table, download counters, and the last cycle summary. A spinner
// runs while a check cycle is in flight. Key bindings: c triggers a check
// immediately, r refreshes the view, q quits.
package ui
