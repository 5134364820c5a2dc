// Package snapstream materializes data pipelines to durable, chunked
// snapshots and reads them back, concurrently with the write.
//
// # Architecture
//
// A save is driven by three cooperating roles:
//
//   - Dispatcher: owns split assignment and stream lifecycle. It hands
//     source splits to workers, assigns committed chunks contiguous
//     numbers, and seals the stream once every split has been written.
//   - Writers: a fleet of workers that pull splits, run the pipeline
//     over them, and stage encoded chunks into durable storage.
//   - Reader: tails the chunk sequence, serving elements as chunks
//     become visible, before the save has finished.
//
// All durable state lives behind the chunkstore.Store interface; the
// filesystem (chunkstore/fsstore) and NATS JetStream object storage
// (chunkstore/natsstore) backends are provided.
//
// # Semantics
//
// A snapshot is readable while it is being written. The element order a
// concurrent reader observes is valid but not repeatable; once the
// stream is sealed, the chunk sequence is frozen and every subsequent
// read returns the identical order. Failures during the save are
// recorded in the snapshot metadata and surface to readers as errors.
//
// Replays (package replay) iterate a snapshot a fixed or unbounded
// number of epochs with checkpoint and restore. Consumer groups
// (package shard) fan a replay across consumers, either duplicating the
// stream or partitioning it dynamically by pull rate.
//
// # Quick Start
//
//	store, err := fsstore.New("/var/lib/snapshots")
//	if err != nil { ... }
//
//	save, err := snapstream.Save(ctx, store, "streams/demo", provider, snapshot.DefaultOptions())
//	if err != nil { ... }
//	fleet, err := snapstream.Write(ctx, 4, save, store, pipeline, snapshot.DefaultOptions())
//	if err != nil { ... }
//
//	load, err := snapstream.Load(ctx, store, "streams/demo")
//	if err != nil { ... }
//	for {
//		el, err := load.Next(ctx)
//		if err == io.EOF {
//			break
//		}
//		...
//	}
package snapstream
