// Package nanopatch applies binary deltas to firmware partitions in place.
//
// The engine decodes a patch streamed out of a patch partition against the
// application partition it is about to overwrite. The read-while-write
// hazard is broken by a bounded commit buffer, either a reserved flash swap
// area or a RAM block: new-image bytes queue up there and are only copied
// over the old image once the decoder has logically advanced past the
// region being destroyed. A session finishes by flushing the residual
// buffer, erasing the tail left behind by a shrinking image, and verifying
// the committed length.
//
//	table := flash.NewTable()
//	// ... register "app", "download" and "swap" partitions ...
//	app, _ := table.Find("app")
//	dl, _ := table.Find("download")
//	err := nanopatch.Apply(ctx, app,
//		nanopatch.PatchWindow{Part: dl, Offset: headerSize, Length: patchLen},
//		newImageLen,
//		nanopatch.WithFlashSwapFromTable(table, "swap", 0),
//	)
//
// Cryptographic verification of the produced image is out of scope; the
// update orchestrator is presumed to verify the package before and the
// image after a session.
package nanopatch
