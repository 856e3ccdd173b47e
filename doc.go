/*

Package recursiveremote implements the data model shared by a
recursive remote: a content-addressed object graph that lets one
ordinary git repository carry, as opaque history on one of its own
branches, the backing store for any number of other DVCS
repositories.

Vocabulary:

- address: 256-bit content hash of a Blob's plaintext
- weak hash: the 160-bit identifier used natively by the tracked
  inner repositories (git object ids); opaque to this package
- frame: the sealed (or, in clear mode, unsealed) byte form of a
  Blob as it is stored upstream
- segment: one storage-sized piece of a frame; large frames are
  split into a sequence of segments so no single upstream blob
  exceeds the configured object size
- namespace: a named, independently keyed partition of the object
  graph, corresponding to one tracked inner repository
- state record: the root of one commit's object graph -- the set of
  namespace addresses plus the state records it was built from
- namespace record: one namespace's ref table plus its ordered list
  of pack addresses

This package only knows how to seal, split, and (de)serialize these
structures. It has no notion of git plumbing, upstream transport, or
trust; see the config, internal/mirror, internal/reachability, and
engine packages for those concerns.

*/

package recursiveremote
