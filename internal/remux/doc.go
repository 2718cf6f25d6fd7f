// Package remux drives ffmpeg as a stream-copy remux engine.
//
// Two invocations are supported:
//
//   - merge mode ([Engine.Attempt]): remux an HLS playlist into one file while
//     watching stderr for a non-monotonous DTS fault, which is attributed to
//     the segment most recently opened by the hls demuxer.
//   - concat mode ([Engine.Concat]): join already-remuxed chunks with the
//     concat demuxer.
//
// ffmpeg's stderr is mirrored unmodified to the caller's diagnostics writer
// while it is parsed.
package remux
