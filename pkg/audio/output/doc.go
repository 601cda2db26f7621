// Package output drives a stream.Renderer from an audio device or file.
//
// Each backend calls Process once per render quantum. Devices that ask for
// arbitrary frame counts go through a Framer, which slices them into
// quanta without allocating.
//
// Backends:
//   - Malgo: miniaudio via malgo, the default device output
//   - Oto: ebitengine/oto, a pull-based io.Reader player
//   - PortAudio: fixed quantum-sized callbacks (build with -tags portaudio)
//   - WAV: offline or paced rendering to a file via go-audio/wav
//
// Example:
//
//	out := output.NewMalgo()
//	if err := out.Open(48000, 2); err != nil {
//		log.Fatal(err)
//	}
//	err := out.Start(consumer)
package output
