package config

// SystemDefaults returns the built-in configuration every tier merges onto.
func SystemDefaults() *Config {
	return &Config{
		Engine: EngineConfig{
			FileTimeout:  "30s",
			NameIndex:    boolPtr(true),
			StrictSyntax: boolPtr(true),
			Exclude: []string{
				"**/build/**",
				"**/target/**",
				"**/.git/**",
			},
		},
		Rules: map[string]RuleOverride{},
		Store: StoreConfig{
			Backend: "file",
			Dir:     ".callsite/results",
		},
		Cache: CacheConfig{
			Enabled: boolPtr(true),
			Dir:     ".callsite/cache",
			TTL:     "168h",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			ServiceName: "callsite",
			SampleRate:  1.0,
		},
		Output: OutputConfig{
			Format: "auto",
		},
		Watch: WatchConfig{
			Debounce:      "300ms",
			ParallelFiles: 3,
			WatchPatterns: []string{"**/*.java"},
			IgnorePatterns: []string{
				"**/.git/**",
				"**/build/**",
				"**/target/**",
				"**/.callsite/**",
			},
		},
	}
}

func boolPtr(b bool) *bool { return &b }
