// Package tree is the lazily loaded content tree host surfaces browse.
//
// The tree has three levels below the root: sections, their items and the items of a
// container. Hosts pull one level at a time:
//
//   - [Tree.ChildCount] and [Tree.ContentAt] answer from the current in-memory state
//   - [Tree.LoadChildren] runs a node's fetch action at most once and applies its result
//   - [Dispatcher.InitiatePlayback] hands the element at a path to the [Player]
//
// Sections and containers are never mutated in place. A completed fetch builds a new
// section and swaps it in under the tree lock, so readers see either the old or the
// new children, never a mix.
package tree
