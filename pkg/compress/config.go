package compress

// Config holds the codec settings.
type Config struct {
	Enabled   bool `env:"COMPRESSION_ENABLED" envDefault:"true"`
	Threshold int  `env:"COMPRESSION_THRESHOLD" envDefault:"1024"` // bytes; payloads strictly larger are compressed
	Level     int  `env:"COMPRESSION_LEVEL" envDefault:"6"`        // gzip level, -2..9
	// MaxDecompressedSize guards against decompression bombs. Zero disables the check.
	MaxDecompressedSize int64 `env:"COMPRESSION_MAX_DECOMPRESSED_SIZE" envDefault:"67108864"`
}

// DefaultConfig mirrors the env defaults for code that does not load config.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		Threshold:           1024,
		Level:               6,
		MaxDecompressedSize: 64 << 20,
	}
}
