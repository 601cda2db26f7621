// Package source decodes audio into interleaved float32 samples for the
// producer.
//
// Sources exist for MP3, FLAC, Ogg Vorbis, WAV and AIFF files, HTTP MP3
// streams and a sine tone. Conform adapts any source to a stream's sample
// rate and channel count.
//
// Example:
//
//	src, err := source.Open("song.flac", true)
//	if err != nil {
//		log.Fatal(err)
//	}
//	src = source.Conform(src, 48000, 2)
//	defer src.Close()
package source
