package remux

// MergeArgs returns the ffmpeg arguments that remux playlist into output.
func MergeArgs(logLevel, playlist, output string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", logLevel,
		"-f", "hls",
		"-i", playlist,
		"-c", "copy",
		"-y", output,
	}
}

// ConcatArgs returns the ffmpeg arguments that join the files named in
// listFile into output with a fast-start layout.
func ConcatArgs(logLevel, listFile, output string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", logLevel,
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		"-movflags", "faststart",
		"-y", output,
	}
}
