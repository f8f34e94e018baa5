// Package ui implements the terminal browser using bubbletea's Elm architecture.
//
// The browser is a host surface for the content tree. It shows one level at a time:
//  1. the sections at the root
//  2. the items of a section
//  3. the items of a container
//
// Entering a node asks the tree to load its children first and renders the list when the
// load completes, so the screen never blocks on the network. Entering a leaf hydrates it
// and then starts playback through the dispatcher.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, r, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
