/*
Package pool implements a pool of fixed-size storage buckets multiplexed
onto slots of one shared backing channel. A bucket owns the byte range
[blockSize*index, blockSize*index+blockSize) of the channel and exposes
single-use read and write streams over it.

Buckets start out temporary: they exist only in the pool's in-memory
tables. StoreTo records a bucket in the tag database, making it persisted;
RemoveFrom moves it back to temporary. Free releases the slot for reuse
and is terminal. A shadow is an independently-freed, read-only view over
another bucket's slot; the slot is reused only once the origin bucket and
every shadow of it have been freed.

Locking follows a fixed order: the pool's lock is always taken before any
bucket's lock. The bucket methods that cross this boundary (Free, StoreTo,
RemoveFrom) call into the pool, which takes its own lock and then flips
the bucket's flags through unexported hooks. Taking the locks in the other
order is a deadlock.
*/
package pool
