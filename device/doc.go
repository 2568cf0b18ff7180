// Package device connects rtcaudio tracks to local sound hardware through
// miniaudio (malgo).
//
// Capture is a rtcaudio.LocalProducer reading a microphone; Playback is a
// rtcaudio.PlaybackDevice that plays received audio on a speaker. Both use
// interleaved float32 samples so no conversion is needed on the way in or
// out of AudioBuffer beyond byte order.
package device
