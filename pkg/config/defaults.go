package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults sets the default value of every setting on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.maxsizemb", 50)

	// onset envelope and peak picking, tuned for drum stems
	v.SetDefault("onset.hoplength", 256)
	v.SetDefault("onset.nfft", 2048)
	v.SetDefault("onset.nmels", 128)
	v.SetDefault("onset.fmax", 12000.0)
	v.SetDefault("onset.delta", 0.15)
	v.SetDefault("onset.wait", 3)

	v.SetDefault("features.height", 256)
	v.SetDefault("features.width", 256)
	v.SetDefault("features.windowsize", 0.32)
	v.SetDefault("features.preoffset", 0.03)
	v.SetDefault("features.nmels", 64)
	v.SetDefault("features.fmax", 12000.0)
	v.SetDefault("features.nfft", 2048)
	v.SetDefault("features.hoplength", 512)

	v.SetDefault("classifier", "heuristic")

	v.SetDefault("midi.enabled", true)
	v.SetDefault("midi.bpm", 0.0)
	v.SetDefault("midi.defaultbpm", 120.0)
	v.SetDefault("midi.ticksperbeat", 480)
	v.SetDefault("midi.velocity", 100)
	v.SetDefault("midi.notelength", 10)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.uploaddir", "uploads")

	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queuesize", 64)
	v.SetDefault("jobs.statusttl", 30*time.Minute)

	v.SetDefault("batch.concurrency", 4)

	v.SetDefault("watch.pattern", "*_drums.wav")
	v.SetDefault("watch.debounce", 2*time.Second)
}
