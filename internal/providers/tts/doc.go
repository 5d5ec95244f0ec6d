// Package tts synthesizes narration audio. ElevenLabs is the primary
// backend when an API key is configured; a local piper binary serves as the
// offline fallback so voice synthesis degrades instead of failing the job.
package tts
