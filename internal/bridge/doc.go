// Package bridge converts native asynchronous primitives (completion
// callbacks, blocking calls, repeated notification callbacks) into two uniform
// shapes: a single-value Future and a multi-value Stream.
//
// Both shapes tolerate late producers. A Completer resolved after its caller
// gave up is ignored, and a Stream pushed after Close drops the item. Neither
// ever blocks the native side.
package bridge
