package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"output format", func(c *Config) { c.Compression.OutputFormat = "bmp" }},
		{"level", func(c *Config) { c.Compression.Level = "extreme" }},
		{"quality low", func(c *Config) { c.Compression.Quality = 0 }},
		{"quality high", func(c *Config) { c.Compression.Quality = 101 }},
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestValidateRepairsSoftSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Progress.TickIntervalMs = 0
	cfg.Telemetry.MaxRecords = -1
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Progress.TickIntervalMs != 100 {
		t.Errorf("tick interval = %d, want repaired default 100", cfg.Progress.TickIntervalMs)
	}
	if cfg.Telemetry.MaxRecords != 5000 {
		t.Errorf("max records = %d, want repaired default 5000", cfg.Telemetry.MaxRecords)
	}
}

func TestExtensionNormalization(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SupportedExtensions = []string{"JPG", ".PNG", "webp"}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	for _, ext := range []string{".jpg", ".png", ".webp", ".JPG"} {
		if !cfg.IsSupportedExtension(ext) {
			t.Errorf("IsSupportedExtension(%q) = false", ext)
		}
	}
	if cfg.IsSupportedExtension(".gif") {
		t.Error("IsSupportedExtension(.gif) = true")
	}
}
