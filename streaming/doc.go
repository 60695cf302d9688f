// Package streaming reconstructs tool calls whose JSON arguments arrive
// fragmented across stream chunks. Providers report a tool-call index with
// each fragment, but the index is not a stable key: some reuse an index after
// a prior call at that index has completed, and continuation fragments may
// arrive without the id that opened the call. ToolCallParser resolves those
// collisions, tracks JSON nesting outside string literals, and repairs
// buffers that were truncated inside an open string.
package streaming
